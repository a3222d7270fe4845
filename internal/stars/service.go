package stars

import (
	"context"
	"errors"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/session"
	"github.com/dgellow/authbridge/internal/validation"
)

// Target names a repository.
type Target struct {
	Owner string `json:"owner" validate:"required,max=100"`
	Repo  string `json:"repo" validate:"required,max=100"`
}

// Status is the star state of a repository for the current user.
type Status struct {
	Starred   bool `json:"starred"`
	Connected bool `json:"connected"`
}

// Service applies star operations for a session.
type Service struct {
	client *Client
}

func NewService(client *Client) *Service {
	return &Service{client: client}
}

func validateTarget(t Target) error {
	if err := validation.Struct(t); err != nil {
		return apierror.InvalidInput("owner and repo are required")
	}
	return nil
}

// Set stars or unstars the target and returns the state GitHub confirmed.
// NotConnected is the error for a session without GitHub credentials.
func NotConnected() error {
	return apierror.Unauthorized("GitHub account not connected")
}

func (s *Service) Set(ctx context.Context, gh *session.GitHubSession, t Target, starred bool) (bool, error) {
	if gh == nil {
		return false, NotConnected()
	}
	if err := validateTarget(t); err != nil {
		return false, err
	}

	var (
		confirmed bool
		err       error
		failMsg   string
	)
	if starred {
		confirmed, err = s.client.Star(ctx, gh.AccessToken, t.Owner, t.Repo)
		failMsg = "Failed to star repository."
	} else {
		confirmed, err = s.client.Unstar(ctx, gh.AccessToken, t.Owner, t.Repo)
		failMsg = "Failed to unstar repository."
	}
	if err != nil {
		log.LogErrorWithFields("stars", "Star update failed", map[string]any{
			"owner":   t.Owner,
			"repo":    t.Repo,
			"starred": starred,
			"error":   err.Error(),
		})
		return false, apierror.Upstream(failMsg, err)
	}

	log.LogInfoWithFields("stars", "Star updated", map[string]any{
		"owner":   t.Owner,
		"repo":    t.Repo,
		"starred": confirmed,
		"user":    gh.Username,
	})
	return confirmed, nil
}

// Status reports the star state. It never calls GitHub when the session
// has no classic credentials.
func (s *Service) Status(ctx context.Context, gh *session.GitHubSession, t Target) (Status, error) {
	if gh == nil {
		return Status{}, nil
	}
	if err := validateTarget(t); err != nil {
		return Status{}, err
	}

	starred, err := s.client.IsStarred(ctx, gh.AccessToken, t.Owner, t.Repo)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Status{}, err
		}
		return Status{}, apierror.Upstream("Failed to check star status.", err)
	}
	return Status{Starred: starred, Connected: true}, nil
}
