// Package ioutil bounds what is read from upstream response bodies.
package ioutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// ErrorBodyLimit caps upstream bodies quoted in errors and logs.
	ErrorBodyLimit = 512
	// JSONBodyLimit caps decoded upstream JSON documents.
	JSONBodyLimit = 1 << 20
)

// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// ReadLimited reads up to limit bytes from r for use in an error message.
// Surrounding whitespace is trimmed. A failed read is described instead of
// being silenced.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return strings.TrimSpace(string(body))
}

// DecodeJSON decodes one JSON value from r into v, reading at most limit
// bytes.
func DecodeJSON(r io.Reader, limit int64, v any) error {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	if err := json.NewDecoder(lr).Decode(v); err != nil {
		if lr.N <= 0 {
			return ErrBodyTooLarge
		}
		return err
	}
	if lr.N <= 0 {
		return ErrBodyTooLarge
	}
	return nil
}
