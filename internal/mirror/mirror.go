// Package mirror copies a source git repository to its
// Bitbucket remote, refs and all, without touching disk.
package mirror

import (
	"context"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
)

type Mirror interface {
	Push(ctx context.Context, sourceURL, targetURL string) error
}

type gitMirror struct {
	token string
}

// New returns a Mirror that authenticates pushes with the
// given Bitbucket access token.
func New(token string) Mirror {
	return &gitMirror{token: token}
}

func (m *gitMirror) Push(ctx context.Context, sourceURL, targetURL string) error {
	log.Info("mirroring repository", "source", sourceURL, "target", targetURL)

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:    sourceURL,
		Mirror: true,
	})
	if err != nil {
		return errors.Wrap(err, "clone source")
	}

	remote, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "mirror",
		URLs: []string{targetURL},
	})
	if err != nil {
		return errors.Wrap(err, "add mirror remote")
	}

	var auth *http.BasicAuth
	if m.token != "" {
		auth = &http.BasicAuth{Username: "x-token-auth", Password: m.token}
	}

	err = remote.PushContext(ctx, &git.PushOptions{
		RemoteName: "mirror",
		RefSpecs:   []config.RefSpec{"+refs/*:refs/*"},
		Auth:       auth,
		Force:      true,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "push mirror")
	}

	return nil
}
