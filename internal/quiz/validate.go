package quiz

import (
	"regexp"
	"strings"
)

// IsAnswered reports whether the answer satisfies the question
// variant's completion predicate. It never errors: malformed payloads
// read as not answered, and the UI simply keeps its gate closed.
func IsAnswered(q Question, a Answer) bool {
	switch q.Variant {
	case MultipleChoice, Scenario:
		return a.Index != nil && *a.Index >= 0 && *a.Index < len(q.Options)
	case YesNo:
		return a.Bool != nil
	case ShortAnswer:
		t := strings.TrimSpace(a.Text)
		if t == "" {
			return false
		}
		return q.MaxLength <= 0 || len([]rune(a.Text)) <= q.MaxLength
	case FileUpload:
		return a.FileUploaded && a.File != ""
	case DragOrder:
		// Any order counts as answered; correctness is scored shore-side.
		return len(a.Order) > 0
	case Matching:
		if len(a.Pairs) != len(q.LeftColumn) || len(q.LeftColumn) == 0 {
			return false
		}
		for _, p := range a.Pairs {
			if p == nil {
				return false
			}
		}
		return true
	case FillInGaps:
		n := BlankCount(q.Template)
		if n == 0 || len(a.Gaps) != n {
			return false
		}
		for _, g := range a.Gaps {
			if strings.TrimSpace(g) == "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AutoAdvances reports whether answering a question of this variant
// should schedule an automatic advance. Only single-click variants
// qualify; everything else needs review before moving on.
func AutoAdvances(v Variant) bool {
	switch v {
	case MultipleChoice, YesNo, Scenario:
		return true
	case FillInGaps, DragOrder, Matching, ShortAnswer, FileUpload:
		return false
	default:
		return false
	}
}

// Template blanks come in two syntaxes: explicit [BLANK] markers and
// underscore runs. Authors write anything from "___" to "_______", so
// any run of three or more counts as one blank.
var blankPattern = regexp.MustCompile(`\[BLANK\]|_{3,}`)

// BlankCount derives the number of blanks in a fill_in_gaps template.
func BlankCount(template string) int {
	return len(blankPattern.FindAllString(template, -1))
}

// ResizeGaps fits an existing gap-answer slice to n blanks. Values are
// preserved only when the length already matches; otherwise the slice
// is reinitialized so stale entries can never line up with the wrong
// blank.
func ResizeGaps(existing []string, n int) []string {
	if len(existing) == n {
		return existing
	}
	return make([]string, n)
}
