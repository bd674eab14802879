package session

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collection-tracker/internal/model"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestResolve_Roles(t *testing.T) {
	cases := []struct {
		claim string
		want  model.Role
	}{
		{"recolector", model.RoleCollector},
		{"usuario", model.RoleCitizen},
		{"admin", model.RoleAdmin},
		{"collector", model.RoleCollector},
	}
	for _, tc := range cases {
		t.Run(tc.claim, func(t *testing.T) {
			s, err := Resolve(signed(t, jwt.MapClaims{"rol": tc.claim, "nombre": "Ana"}))
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Role)
			assert.Equal(t, "Ana", s.Name)
			assert.NotEqual(t, uuid.Nil, s.ID)
		})
	}
}

func TestResolve_RoleClaimFallback(t *testing.T) {
	s, err := Resolve(signed(t, jwt.MapClaims{"role": "recolector"}))
	require.NoError(t, err)
	assert.True(t, s.IsCollector())
	assert.False(t, s.IsCitizen())
}

func TestResolve_Errors(t *testing.T) {
	_, err := Resolve("not-a-token")
	require.Error(t, err)

	_, err = Resolve(signed(t, jwt.MapClaims{"sub": "1"}))
	assert.True(t, errors.Is(err, ErrNoRole))

	_, err = Resolve(signed(t, jwt.MapClaims{"rol": "mayor"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}
