package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/authbridge/internal/ioutil"
	"github.com/dgellow/authbridge/internal/validation"
)

// MiniDoc is the directory's normalized view of an identity.
type MiniDoc struct {
	DID    string `json:"did" validate:"required,startswith=did:"`
	Handle string `json:"handle" validate:"required"`
	PDS    string `json:"pds" validate:"required,http_url"`
}

const miniDocPath = "/xrpc/com.bad-example.identity.resolveMiniDoc"

// lookupTimeout bounds a shared directory lookup, which outlives the
// request that started it.
const lookupTimeout = 10 * time.Second

// ResolveMiniDoc asks the directory service for the mini document of did.
// Concurrent lookups of the same DID share one request. A caller that gives
// up does not cancel the lookup for the others.
func (r *Resolver) ResolveMiniDoc(ctx context.Context, did string) (*MiniDoc, error) {
	ch := r.group.DoChan(did, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.fetchMiniDoc(lookupCtx, did)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		doc := *res.Val.(*MiniDoc)
		return &doc, nil
	}
}

func (r *Resolver) fetchMiniDoc(ctx context.Context, did string) (*MiniDoc, error) {
	endpoint := r.directoryURL(miniDocPath) + "?identifier=" + url.QueryEscape(did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building mini doc request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolving mini doc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolving mini doc: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, ioutil.ErrorBodyLimit))
	}

	var doc MiniDoc
	if err := ioutil.DecodeJSON(resp.Body, ioutil.JSONBodyLimit, &doc); err != nil {
		return nil, fmt.Errorf("decoding mini doc: %w", err)
	}
	if err := validation.Struct(doc); err != nil {
		return nil, err
	}
	if doc.DID != did {
		return nil, fmt.Errorf("mini doc is for %s, expected %s", doc.DID, did)
	}
	return &doc, nil
}
