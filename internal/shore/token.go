package shore

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// CrewID extracts the crew member id from the shore-issued access
// token. The claims are read unverified: verification is the shore
// backend's job on every request; the agent only needs the subject to
// partition its local storage.
func CrewID(token string) (string, error) {
	parser := jwt.NewParser()
	var claims jwt.MapClaims = map[string]interface{}{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	return "", errors.New("token has no subject claim")
}
