package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"collection-tracker/internal/model"
)

var ErrNoRole = errors.New("credential carries no role claim")

// Session is resolved once at start and passed by reference afterwards.
// The token signature is not checked here; the backend does that on every call.
type Session struct {
	ID    uuid.UUID
	Token string
	Role  model.Role
	Name  string
}

// Resolve decodes the role and display name out of the credential claims.
func Resolve(token string) (*Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}

	raw := stringClaim(claims, "rol", "role")
	if raw == "" {
		return nil, ErrNoRole
	}
	role, err := model.ParseRole(raw)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	return &Session{
		ID:    uuid.New(),
		Token: token,
		Role:  role,
		Name:  stringClaim(claims, "nombre", "name"),
	}, nil
}

func (s *Session) IsCollector() bool { return s.Role == model.RoleCollector }
func (s *Session) IsCitizen() bool   { return s.Role == model.RoleCitizen }

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
