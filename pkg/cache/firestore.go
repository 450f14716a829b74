package cache

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreSource reads and writes documents of one collection. Keys are
// formatted with %v and used as document IDs, so they must not contain "/".
type FirestoreSource[K comparable, V any] struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreSource creates a source over an externally managed client.
func NewFirestoreSource[K comparable, V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[K, V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")
	return &FirestoreSource[K, V]{
		client:     client,
		collection: cfg.CollectionName,
		logger:     logger.With().Str("component", "FirestoreSource").Logger(),
	}, nil
}

// Fetch reads the document for key. A missing document wraps ErrNotFound.
func (s *FirestoreSource[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var value V
	docID := fmt.Sprintf("%v", key)
	snap, err := s.client.Collection(s.collection).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("key", docID).Msg("Document not found in Firestore.")
			return value, fmt.Errorf("firestore %s: %w", docID, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", docID).Msg("Failed to get document from Firestore.")
		return value, fmt.Errorf("firestore get for %s: %w", docID, err)
	}
	if err := snap.DataTo(&value); err != nil {
		return value, fmt.Errorf("firestore DataTo for %s: %w", docID, err)
	}
	return value, nil
}

// Write sets the document for key. Firestore is slow for frequently changing
// values; use Redis for those.
func (s *FirestoreSource[K, V]) Write(ctx context.Context, key K, value V) error {
	docID := fmt.Sprintf("%v", key)
	if _, err := s.client.Collection(s.collection).Doc(docID).Set(ctx, value); err != nil {
		s.logger.Error().Err(err).Str("key", docID).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", docID, err)
	}
	return nil
}

// Delete removes the document for key.
func (s *FirestoreSource[K, V]) Delete(ctx context.Context, key K) error {
	docID := fmt.Sprintf("%v", key)
	if _, err := s.client.Collection(s.collection).Doc(docID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", docID, err)
	}
	return nil
}

// Close is a no-op; the Firestore client's lifecycle is managed by the caller.
func (s *FirestoreSource[K, V]) Close() error {
	return nil
}
