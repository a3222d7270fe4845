package session

import (
	"encoding/json"
	"fmt"
)

// Field is one top-level entry of a Patch. The zero value leaves the key
// untouched.
type Field[T any] struct {
	op    fieldOp
	value T
}

type fieldOp int

const (
	opKeep fieldOp = iota
	opSet
	opClear
)

// Set replaces the key with v.
func Set[T any](v T) Field[T] {
	return Field[T]{op: opSet, value: v}
}

// Clear removes the key.
func Clear[T any]() Field[T] {
	return Field[T]{op: opClear}
}

// Patch is a merge patch over the session document.
type Patch struct {
	Public       Field[PublicSession]
	GitHub       Field[GitHubSession]
	OAuthSession Field[json.RawMessage]
	OAuthState   Field[json.RawMessage]
}

func applyField[T any](doc document, key string, f Field[T]) error {
	switch f.op {
	case opSet:
		raw, err := json.Marshal(f.value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		doc[key] = raw
	case opClear:
		delete(doc, key)
	}
	return nil
}

// apply mutates doc in place.
func (p Patch) apply(doc document) error {
	if err := applyField(doc, KeyPublic, p.Public); err != nil {
		return err
	}
	if err := applyField(doc, KeyGitHub, p.GitHub); err != nil {
		return err
	}
	if err := applyField(doc, KeyOAuthSession, p.OAuthSession); err != nil {
		return err
	}
	return applyField(doc, KeyOAuthState, p.OAuthState)
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Public.op == opKeep && p.GitHub.op == opKeep &&
		p.OAuthSession.op == opKeep && p.OAuthState.op == opKeep
}
