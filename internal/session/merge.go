package session

import (
	"context"
	"encoding/json"

	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/validation"
)

// LoginFederated stores the federated identity. Classic provider fields
// are left alone.
func LoginFederated(ctx context.Context, h *Handle, public PublicSession) error {
	return h.Update(ctx, Patch{Public: Set(public)})
}

// LogoutFederated clears the federated identity and the legacy fields.
// It is idempotent.
func LogoutFederated(ctx context.Context, h *Handle) error {
	return h.Update(ctx, Patch{
		Public:       Clear[PublicSession](),
		OAuthSession: Clear[json.RawMessage](),
		OAuthState:   Clear[json.RawMessage](),
	})
}

// LoginClassic stores the classic provider credentials.
func LoginClassic(ctx context.Context, h *Handle, gh GitHubSession) error {
	return h.Update(ctx, Patch{GitHub: Set(gh)})
}

// LogoutClassic clears the classic provider credentials only.
func LogoutClassic(ctx context.Context, h *Handle) error {
	return h.Update(ctx, Patch{GitHub: Clear[GitHubSession]()})
}

// ReadPublic returns the validated federated identity, or nil when the
// user is not logged in or the stored shape is invalid.
//
// When a legacy field is present it is removed and only this read reports
// relogin. The stored identity is left unchanged. The write may race with a
// concurrent read of the same session; both would write the same result.
func ReadPublic(ctx context.Context, h *Handle) (*PublicSession, error) {
	data := h.Data()

	public := data.Public
	if public != nil {
		if err := validation.Struct(*public); err != nil {
			log.LogWarnWithFields("session", "Stored public session is invalid", map[string]any{
				"error": err.Error(),
			})
			public = nil
		}
	}

	if !data.HasLegacyOAuthSession {
		return public, nil
	}

	if err := h.Update(ctx, Patch{OAuthSession: Clear[json.RawMessage]()}); err != nil {
		return nil, err
	}
	if public != nil {
		migrated := *public
		migrated.Relogin = true
		public = &migrated
	}
	log.LogInfoWithFields("session", "Migrated legacy session, relogin required", map[string]any{
		"did": didOf(public),
	})
	return public, nil
}

// ReadGitHub returns the classic provider credentials when both the token
// and the username are present.
func ReadGitHub(h *Handle) *GitHubSession {
	gh := h.Data().GitHub
	if gh == nil || gh.AccessToken == "" || gh.Username == "" {
		return nil
	}
	return gh
}

func didOf(p *PublicSession) string {
	if p == nil {
		return ""
	}
	return p.DID
}
