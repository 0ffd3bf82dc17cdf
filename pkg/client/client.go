package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/pkg/commit"
	"github.com/kgb-bot/kgb/pkg/protocol"
)

// Client drives failover across the configured servers: a random
// permutation per call, with the last successful server tried first so
// consecutive commits land where the duplicate-suppression state lives.
type Client struct {
	repoID  string
	servers []*ServerRef

	lastGood *ServerRef

	// shuffle is swappable for deterministic tests.
	shuffle func(n int, swap func(i, j int))
}

// New builds a client for one repository. At least one server is
// required.
func New(repoID string, servers ...*ServerRef) (*Client, error) {
	if repoID == "" {
		return nil, errors.New("repository id is required")
	}
	if len(servers) == 0 {
		return nil, errors.New("at least one server is required")
	}
	return &Client{
		repoID:  repoID,
		servers: servers,
		shuffle: rand.Shuffle,
	}, nil
}

// RelayCommit announces one commit, trying servers until one accepts.
// When every server fails the combined error is returned; the caller
// treats it as fatal.
func (c *Client) RelayCommit(ctx context.Context, cm *commit.Commit, revPrefix string) error {
	req := &protocol.CommitRequest{
		Version:   protocol.VersionV2,
		RepoID:    c.repoID,
		RevPrefix: revPrefix,
		Revision:  cm.ID,
		Changes:   cm.ChangeStrings(),
		Log:       cm.Log,
		Author:    cm.Author,
	}
	if cm.Branch != "" {
		req.Branch = &cm.Branch
	}
	if cm.Module != "" {
		req.Module = &cm.Module
	}

	var errs []error
	for _, ref := range c.order() {
		err := ref.SendCommit(ctx, req)
		if err == nil {
			c.lastGood = ref
			return nil
		}
		logger.Warn("server failed, trying next",
			"server", ref.URI, logger.KeyError, err)
		errs = append(errs, err)
	}
	return fmt.Errorf("all %d servers failed: %w", len(c.servers), errors.Join(errs...))
}

// order returns a fresh random permutation with the sticky last-good
// server moved to the front.
func (c *Client) order() []*ServerRef {
	refs := append([]*ServerRef(nil), c.servers...)
	c.shuffle(len(refs), func(i, j int) {
		refs[i], refs[j] = refs[j], refs[i]
	})
	if c.lastGood == nil {
		return refs
	}
	for i, ref := range refs {
		if ref == c.lastGood {
			copy(refs[1:i+1], refs[:i])
			refs[0] = c.lastGood
			break
		}
	}
	return refs
}
