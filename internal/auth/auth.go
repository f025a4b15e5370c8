// Package auth decides who may run admin commands on a board.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	QueryParam = "admin"
	Header     = "X-Admin-Key"
)

type Authorizer interface {
	IsAdmin(r *http.Request) bool
}

// Static grants or denies admin to every request.
type Static bool

func (s Static) IsAdmin(*http.Request) bool { return bool(s) }

// KeyAuthorizer accepts requests carrying the admin key, either as the
// "admin" query parameter or the X-Admin-Key header. Only a bcrypt hash of
// the key is held.
type KeyAuthorizer struct {
	hash []byte
}

// NewKeyAuthorizer builds an authorizer from a bcrypt hash, or from a
// plaintext key when no hash is given. With neither, nobody is admin.
func NewKeyAuthorizer(hash, key string) (*KeyAuthorizer, error) {
	switch {
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("admin key hash: %w", err)
		}
		return &KeyAuthorizer{hash: []byte(hash)}, nil
	case key != "":
		h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin key: %w", err)
		}
		return &KeyAuthorizer{hash: h}, nil
	default:
		return &KeyAuthorizer{}, nil
	}
}

// Enabled reports whether any key can grant admin.
func (a *KeyAuthorizer) Enabled() bool { return len(a.hash) > 0 }

func (a *KeyAuthorizer) IsAdmin(r *http.Request) bool {
	if len(a.hash) == 0 {
		return false
	}
	key := strings.TrimSpace(r.Header.Get(Header))
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get(QueryParam))
	}
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(key)) == nil
}
