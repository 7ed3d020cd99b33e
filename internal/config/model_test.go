package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/ftpgo/internal/auth"
)

func strPtr(s string) *string { return &s }

func TestAuthUsers(t *testing.T) {
	m := &Model{Users: []*User{
		{
			Login:    strPtr("alice"),
			Password: strPtr("secret"),
			BasePath: "/srv/alice",
			Permissions: []Permission{
				{Path: "/", Readable: true},
				{Path: "/upload", Readable: true, Writable: true},
			},
			ReadSpeedLimit: 1024,
		},
		{BasePath: "/srv/pub"},
	}}

	users, err := m.AuthUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)

	alice := users[0]
	assert.Equal(t, "alice", alice.Name())
	assert.Equal(t, "/", alice.HomePath)
	assert.Equal(t, auth.DefaultMaximumConnectionsPerUser, alice.MaximumConnections)
	assert.Equal(t, int64(1024), alice.ReadSpeedLimit)
	assert.False(t, alice.Permission("/file").Writable)
	assert.True(t, alice.Permission("/upload/file").Writable)

	assert.Equal(t, "anonymous", users[1].Name())
}

func TestAuthUsers_InvalidHome(t *testing.T) {
	m := &Model{Users: []*User{{Login: strPtr("bob"), HomePath: "relative"}}}
	_, err := m.AuthUsers()
	require.ErrorIs(t, err, auth.ErrPathIsNotAbsolute)
	assert.Contains(t, err.Error(), `user "bob"`)
}
