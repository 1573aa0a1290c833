package git

import (
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tempDir := t.TempDir()

	client, err := NewClient(
		"https://github.com/test/repo.git",
		tempDir,
		"testuser",
		"testtoken",
	)

	// This will fail because we can't actually clone the repo, but we're testing the constructor
	assert.Error(t, err) // Expected to fail on clone
	assert.Nil(t, client)
}

func TestNewClientOpensExistingRepo(t *testing.T) {
	tempDir := t.TempDir()

	_, err := gogit.PlainInit(tempDir, false)
	require.NoError(t, err)

	client, err := NewClient(
		"https://github.com/test/repo.git",
		tempDir,
		"testuser",
		"testtoken",
	)

	// An existing checkout is opened, no clone is attempted.
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.NotNil(t, client.repo)
}

func TestClientAuth(t *testing.T) {
	client := &Client{
		username: "testuser",
		token:    "testtoken",
	}

	auth := client.auth()
	assert.NotNil(t, auth)
	assert.Equal(t, "testuser", auth.Username)
	assert.Equal(t, "testtoken", auth.Password)
}

func TestBranchForkerInterface(t *testing.T) {
	var _ BranchForker = (*Client)(nil)
}
