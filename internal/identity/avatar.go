package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dgellow/authbridge/internal/ioutil"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/validation"
)

const (
	profileCollection = "app.bsky.actor.profile"
	getRecordPath     = "/xrpc/com.atproto.repo.getRecord"
)

type blobRef struct {
	Link string `json:"$link" validate:"required"`
}

type blob struct {
	Type     string  `json:"$type" validate:"eq=blob"`
	Ref      blobRef `json:"ref"`
	MimeType string  `json:"mimeType" validate:"required,startswith=image/"`
	Size     int64   `json:"size"`
}

type profileRecord struct {
	Type        string `json:"$type" validate:"eq=app.bsky.actor.profile"`
	DisplayName string `json:"displayName,omitempty" validate:"max=640"`
	Avatar      *blob  `json:"avatar,omitempty" validate:"omitempty"`
}

type getRecordResponse struct {
	URI   string        `json:"uri"`
	CID   string        `json:"cid"`
	Value profileRecord `json:"value"`
}

// Avatar returns the CDN URL of did's avatar, or "" when pds is not an
// https URL, the record cannot be fetched, or it holds no avatar.
func (r *Resolver) Avatar(ctx context.Context, pds, did string) string {
	base, err := url.Parse(pds)
	if err != nil || base.Scheme != "https" || base.Host == "" {
		return ""
	}

	record, err := r.fetchProfile(ctx, base, did)
	if err != nil {
		log.LogDebugWithFields("identity", "Avatar lookup failed", map[string]any{
			"did":   did,
			"error": err.Error(),
		})
		return ""
	}
	if record.Avatar == nil {
		return ""
	}
	return fmt.Sprintf("https://%s/img/feed_thumbnail/plain/%s/%s@jpeg", r.cdnHost, did, record.Avatar.Ref.Link)
}

func (r *Resolver) fetchProfile(ctx context.Context, base *url.URL, did string) (*profileRecord, error) {
	endpoint := base.JoinPath(getRecordPath)
	endpoint.RawQuery = url.Values{
		"repo":       {did},
		"collection": {profileCollection},
		"rkey":       {"self"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get profile record: status %d", resp.StatusCode)
	}

	var out getRecordResponse
	if err := ioutil.DecodeJSON(resp.Body, ioutil.JSONBodyLimit, &out); err != nil {
		return nil, fmt.Errorf("decoding profile record: %w", err)
	}
	if err := validation.Struct(out.Value); err != nil {
		return nil, err
	}
	return &out.Value, nil
}
