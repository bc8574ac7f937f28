package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeyRepo struct {
	byHash map[string]*APIKeyInfo
	err    error
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.byHash[hash]
	if !ok {
		return nil, ErrUnauthorized
	}
	return info, nil
}

func (m *mockKeyRepo) Upsert(_ context.Context, info APIKeyInfo) error {
	m.byHash[info.KeyHash] = &info
	return nil
}

func TestAuthenticate(t *testing.T) {
	pepper := []byte("pepper")
	repo := &mockKeyRepo{byHash: map[string]*APIKeyInfo{}}
	require.NoError(t, repo.Upsert(context.Background(), APIKeyInfo{
		ID: "admin", KeyHash: Hash(pepper, "secret"), Name: "admin",
	}))
	a := NewAuthenticator(repo, pepper)

	info, err := a.Authenticate(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", info.ID)

	for _, key := range []string{"", "wrong", "SECRET"} {
		_, err := a.Authenticate(context.Background(), key)
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}

	// Same key under another pepper must not match.
	_, err = NewAuthenticator(repo, []byte("other")).Authenticate(context.Background(), "secret")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_StoreError(t *testing.T) {
	a := NewAuthenticator(&mockKeyRepo{err: errors.New("conn reset")}, nil)

	_, err := a.Authenticate(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash([]byte("p"), "k"), Hash([]byte("p"), "k"))
	assert.Len(t, Hash([]byte("p"), "k"), 64)
}

func TestAPIKeyInfo_HasScope(t *testing.T) {
	info := &APIKeyInfo{ID: "k", Scopes: []string{"read", ScopeAdmin}}
	assert.True(t, info.HasScope(ScopeAdmin))
	assert.False(t, info.HasScope("write"))
	assert.False(t, (&APIKeyInfo{ID: "bare"}).HasScope(ScopeAdmin))
}
