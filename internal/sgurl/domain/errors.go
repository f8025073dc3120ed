package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedRepository is matched by every UnresolvedRepositoryError via errors.Is.
	ErrUnresolvedRepository = errors.New("repository could not be resolved to a Sourcegraph instance")
	ErrEmptyRepository      = errors.New("repository name must not be empty")
	ErrInvalidEndpoint      = errors.New("invalid Sourcegraph URL")
)

// UnresolvedRepositoryError reports that no candidate instance knows Repo.
type UnresolvedRepositoryError struct {
	Repo string
}

func (e *UnresolvedRepositoryError) Error() string {
	return fmt.Sprintf("couldn't detect a Sourcegraph URL for %s", e.Repo)
}

func (e *UnresolvedRepositoryError) Is(target error) bool {
	return target == ErrUnresolvedRepository
}
