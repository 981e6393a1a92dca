// Package auth owns the credential tuple a client presents and the
// small key-value capability sessions are persisted behind. Token
// issuance lives with the session resolver; this package only mints
// tokens for the server and verifies what clients hand in.
package auth

import (
	"errors"
	"fmt"

	"tableflow/internal/models"
)

// ErrUnauthenticated means no credential could be resolved, from either
// an inline supply or the persisted store. It is an auth condition, not
// a connectivity one.
var ErrUnauthenticated = errors.New("no credential available")

// Credential is the resolved (restaurant, role, user, token) tuple bound
// to a session. Immutable once resolved; the authority re-validates the
// token on every state-changing call.
type Credential struct {
	RestaurantID uint
	Role         models.Role
	UserID       uint
	Token        string
}

// Validate checks the tuple is complete enough to open a session.
func (c Credential) Validate() error {
	if c.RestaurantID == 0 {
		return fmt.Errorf("credential missing restaurant id")
	}
	if c.UserID == 0 {
		return fmt.Errorf("credential missing user id")
	}
	if c.Token == "" {
		return fmt.Errorf("credential missing token")
	}
	if _, err := models.ParseRole(string(c.Role)); err != nil {
		return err
	}
	return nil
}
