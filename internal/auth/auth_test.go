package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestKeyAuthorizer(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("shuttle"), bcrypt.MinCost)
	require.NoError(t, err)

	fromHash, err := NewKeyAuthorizer(string(hash), "")
	require.NoError(t, err)
	fromKey, err := NewKeyAuthorizer("", "shuttle")
	require.NoError(t, err)
	assert.True(t, fromHash.Enabled())
	assert.True(t, fromKey.Enabled())

	cases := []struct {
		name   string
		target string
		header string
		want   bool
	}{
		{name: "query param", target: "/ws?admin=shuttle", want: true},
		{name: "header", target: "/ws", header: "shuttle", want: true},
		{name: "wrong key", target: "/ws?admin=racket", want: false},
		{name: "no key", target: "/ws", want: false},
		{name: "header wins over query", target: "/ws?admin=shuttle", header: "racket", want: false},
	}

	for _, a := range []*KeyAuthorizer{fromHash, fromKey} {
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				r := httptest.NewRequest("GET", tc.target, nil)
				if tc.header != "" {
					r.Header.Set(Header, tc.header)
				}
				assert.Equal(t, tc.want, a.IsAdmin(r))
			})
		}
	}
}

func TestKeyAuthorizer_NothingConfigured(t *testing.T) {
	a, err := NewKeyAuthorizer("", "")
	require.NoError(t, err)
	assert.False(t, a.Enabled())
	assert.False(t, a.IsAdmin(httptest.NewRequest("GET", "/ws?admin=", nil)))
	assert.False(t, a.IsAdmin(httptest.NewRequest("GET", "/ws?admin=anything", nil)))
}

func TestKeyAuthorizer_RejectsMalformedHash(t *testing.T) {
	_, err := NewKeyAuthorizer("not-a-bcrypt-hash", "")
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.True(t, Static(true).IsAdmin(r))
	assert.False(t, Static(false).IsAdmin(r))
}
