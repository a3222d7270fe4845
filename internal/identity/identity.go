// Package identity enriches a freshly authenticated DID with a handle, PDS
// host and avatar. Enrichment never fails: when the directory service is
// unavailable the result is Degraded and built from the token audience.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/authbridge/internal/log"
	"golang.org/x/sync/singleflight"
)

// HandleNotAvailable is the handle recorded when the directory lookup failed.
const HandleNotAvailable = "Not available"

// Status tags how a Result was produced.
type Status int

const (
	Resolved Status = iota
	Degraded
)

func (s Status) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "degraded"
}

// Profile is the minimal public identity of a federated user.
type Profile struct {
	DID    string
	Handle string
	PDS    string
	Avatar string
}

// Result is the outcome of Enrich. Reason explains a Degraded result.
type Result struct {
	Status  Status
	Profile Profile
	Reason  error
}

// AudienceFunc returns the audience of the provider session's access
// token, which is the URL of the user's PDS.
type AudienceFunc func(ctx context.Context) (string, error)

// Resolver looks up mini documents and profile records.
type Resolver struct {
	client        *http.Client
	directoryBase string
	cdnHost       string
	group         singleflight.Group
}

// NewResolver creates a resolver. directory is a host name, or a full base
// URL when the scheme is given.
func NewResolver(client *http.Client, directory, cdnHost string) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := directory
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Resolver{
		client:        client,
		directoryBase: strings.TrimSuffix(base, "/"),
		cdnHost:       cdnHost,
	}
}

// Enrich resolves the profile of did. The token audience is only asked
// for when the directory lookup fails.
func (r *Resolver) Enrich(ctx context.Context, did string, audience AudienceFunc) Result {
	doc, docErr := r.ResolveMiniDoc(ctx, did)
	if docErr == nil {
		profile := Profile{DID: did, Handle: doc.Handle, PDS: doc.PDS}
		profile.Avatar = r.Avatar(ctx, profile.PDS, did)
		return Result{Status: Resolved, Profile: profile}
	}

	log.LogWarnWithFields("identity", "Directory lookup failed, using token audience", map[string]any{
		"did":   did,
		"error": docErr.Error(),
	})

	var (
		aud    string
		audErr = errors.New("no token audience available")
	)
	if audience != nil {
		aud, audErr = audience(ctx)
	}

	profile := Profile{DID: did, Handle: HandleNotAvailable, PDS: aud}
	if audErr != nil {
		log.LogWarnWithFields("identity", "Token audience unavailable", map[string]any{
			"did":   did,
			"error": audErr.Error(),
		})
		return Result{Status: Degraded, Profile: profile, Reason: errors.Join(docErr, audErr)}
	}

	profile.Avatar = r.Avatar(ctx, profile.PDS, did)
	return Result{Status: Degraded, Profile: profile, Reason: docErr}
}

func (r *Resolver) directoryURL(path string) string {
	return fmt.Sprintf("%s%s", r.directoryBase, path)
}
