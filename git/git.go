package git

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// BranchForker cuts release branches in the app repository. The kickoff
// FORK_BRANCH task is its only consumer.
type BranchForker interface {
	ForkBranch(baseBranch, newBranch string) (string, error)
	CheckHealth() error
}

type Client struct {
	repoURL   string
	localPath string
	username  string
	token     string
	repo      *git.Repository
}

func NewClient(repoURL, localPath, username, token string) (*Client, error) {
	c := &Client{
		repoURL:   repoURL,
		localPath: localPath,
		username:  username,
		token:     token,
	}

	if err := c.ensureRepo(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) ensureRepo() error {
	// Check if repo already exists
	if _, err := os.Stat(filepath.Join(c.localPath, ".git")); err == nil {
		repo, err := git.PlainOpen(c.localPath)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		c.repo = repo
		return nil
	}

	repo, err := git.PlainClone(c.localPath, false, &git.CloneOptions{
		URL:  c.repoURL,
		Auth: c.auth(),
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	c.repo = repo
	return nil
}

func (c *Client) auth() *http.BasicAuth {
	return &http.BasicAuth{
		Username: c.username,
		Password: c.token,
	}
}

func (c *Client) fetch() error {
	err := c.repo.Fetch(&git.FetchOptions{
		Auth:  c.auth(),
		Force: true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	return nil
}

// ForkBranch creates newBranch at the current head of baseBranch and pushes
// it. If the branch already exists on the remote at any commit the fork is
// treated as already done and the existing head is returned.
func (c *Client) ForkBranch(baseBranch, newBranch string) (string, error) {
	if err := c.fetch(); err != nil {
		return "", err
	}

	newRef := plumbing.NewBranchReferenceName(newBranch)
	if existing, err := c.repo.Reference(plumbing.NewRemoteReferenceName("origin", newBranch), true); err == nil {
		return existing.Hash().String(), nil
	}

	baseRef, err := c.repo.Reference(plumbing.NewRemoteReferenceName("origin", baseBranch), true)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base branch %s: %w", baseBranch, err)
	}

	ref := plumbing.NewHashReference(newRef, baseRef.Hash())
	if err := c.repo.Storer.SetReference(ref); err != nil {
		return "", fmt.Errorf("failed to create branch %s: %w", newBranch, err)
	}

	refspec := config.RefSpec(fmt.Sprintf("%s:%s", newRef, newRef))
	err = c.repo.Push(&git.PushOptions{
		Auth:     c.auth(),
		RefSpecs: []config.RefSpec{refspec},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return "", fmt.Errorf("failed to push branch %s: %w", newBranch, err)
	}

	return baseRef.Hash().String(), nil
}

// CheckHealth verifies the remote is reachable.
func (c *Client) CheckHealth() error {
	remote, err := c.repo.Remote("origin")
	if err != nil {
		return fmt.Errorf("failed to get remote: %w", err)
	}
	if _, err := remote.List(&git.ListOptions{Auth: c.auth()}); err != nil {
		return fmt.Errorf("failed to list remote refs: %w", err)
	}
	return nil
}
