package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreStorage implements Store
var _ Store = (*FirestoreStorage)(nil)

// FirestoreStorage keeps session documents in a Firestore collection. The
// document body is encrypted with the configured Encryptor; expires_at can
// back a Firestore TTL policy.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
	now        func() time.Time
}

// SessionDoc represents a session document in Firestore
type SessionDoc struct {
	Data      string    `firestore:"data"`
	ExpiresAt time.Time `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: collection,
		encryptor:  encryptor,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStorage) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStorage) decode(snap *firestore.DocumentSnapshot) ([]byte, error) {
	var doc SessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !doc.ExpiresAt.IsZero() && !s.now().Before(doc.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	plaintext, err := s.encryptor.Decrypt(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("decrypting session: %w", err)
	}
	return []byte(plaintext), nil
}

func (s *FirestoreStorage) Get(ctx context.Context, id string) ([]byte, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s.decode(snap)
}

// Update runs fn inside a Firestore transaction, so concurrent updates of
// the same session are serialized by the server and retried on conflict.
func (s *FirestoreStorage) Update(ctx context.Context, id string, ttl time.Duration, fn UpdateFunc) error {
	ref := s.doc(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current []byte
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return fmt.Errorf("failed to get session: %w", err)
		default:
			current, err = s.decode(snap)
			if errors.Is(err, ErrSessionNotFound) {
				current = nil
			} else if err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return tx.Delete(ref)
		}

		encrypted, err := s.encryptor.Encrypt(string(next))
		if err != nil {
			return fmt.Errorf("encrypting session: %w", err)
		}
		now := s.now()
		doc := SessionDoc{Data: encrypted, UpdatedAt: now}
		if ttl > 0 {
			doc.ExpiresAt = now.Add(ttl)
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
