// Package session owns the persisted session document shared by both
// providers. The document is a JSON object whose top-level keys are changed
// only through merge patches applied atomically by the store.
package session

import (
	"encoding/json"
	"fmt"
)

// Top-level document keys.
const (
	KeyPublic = "public"
	KeyGitHub = "github"

	// KeyOAuthSession and KeyOAuthState are written by older deployments
	// that kept provider state inside the session. Their presence forces a
	// one-time relogin.
	KeyOAuthSession = "oauthSession"
	KeyOAuthState   = "oauthState"
)

// PublicSession is the federated identity visible to the browser.
type PublicSession struct {
	DID     string `json:"did" validate:"required,startswith=did:"`
	Handle  string `json:"handle" validate:"required"`
	PDS     string `json:"pds" validate:"required"`
	Avatar  string `json:"avatar,omitempty" validate:"omitempty,url"`
	Relogin bool   `json:"relogin,omitempty"`
}

// GitHubSession holds the classic provider credentials. The access token
// never leaves the server.
type GitHubSession struct {
	AccessToken string `json:"accessToken"`
	Username    string `json:"username"`
}

// document is the stored form: unknown keys written by other versions are
// preserved untouched.
type document map[string]json.RawMessage

func decodeDocument(raw []byte) (document, error) {
	doc := document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding session document: %w", err)
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

// Data is a typed read-only view of a session document.
type Data struct {
	// Public is nil when absent or not decodable. It is not yet validated.
	Public *PublicSession
	GitHub *GitHubSession

	HasLegacyOAuthSession bool
	HasLegacyOAuthState   bool
}

func (d document) view() Data {
	var data Data
	if raw, ok := d[KeyPublic]; ok && !isNull(raw) {
		var p PublicSession
		if json.Unmarshal(raw, &p) == nil {
			data.Public = &p
		}
	}
	if raw, ok := d[KeyGitHub]; ok && !isNull(raw) {
		var gh GitHubSession
		if json.Unmarshal(raw, &gh) == nil {
			data.GitHub = &gh
		}
	}
	_, data.HasLegacyOAuthSession = d[KeyOAuthSession]
	_, data.HasLegacyOAuthState = d[KeyOAuthState]
	return data
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
