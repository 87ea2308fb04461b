package storage

import (
	"context"
	"fmt"

	"screentest-backend/internal/model"
	"screentest-backend/pkg/logger"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStorage keeps one document per generation, keyed by generation ID.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStorage(ctx context.Context, projectID, collection, credentialsFile string) (*FirestoreStorage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: firestore project must be provided", ErrStorageInit)
	}
	if collection == "" {
		collection = "generations"
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Firestore client: %v", ErrStorageInit, err)
	}

	return &FirestoreStorage{client: client, collection: collection}, nil
}

func (f *FirestoreStorage) Init() error {
	logger.Infof("Firestore storage initialized, collection %s", f.collection)
	return nil
}

func (f *FirestoreStorage) Close() error {
	return f.client.Close()
}

// Backup is a no-op; Firestore exports are managed outside the service.
func (f *FirestoreStorage) Backup() error {
	return nil
}

func (f *FirestoreStorage) SaveGeneration(ctx context.Context, record *model.GenerationRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	if _, err := f.client.Collection(f.collection).Doc(record.ID).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to save generation %s: %w", record.ID, err)
	}
	return nil
}

func (f *FirestoreStorage) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	if err := validateID(id); err != nil {
		return nil, ErrGenerationNotFound
	}

	snap, err := f.client.Collection(f.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrGenerationNotFound
		}
		return nil, fmt.Errorf("failed to get generation %s: %w", id, err)
	}

	var record model.GenerationRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &record, nil
}

func (f *FirestoreStorage) ListGenerations(ctx context.Context, limit int) ([]model.GenerationSummary, error) {
	query := f.client.Collection(f.collection).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	it := query.Documents(ctx)
	defer it.Stop()

	var summaries []model.GenerationSummary
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list generations: %w", err)
		}

		var record model.GenerationRecord
		if err := snap.DataTo(&record); err != nil {
			logger.Warnf("Skipping unreadable generation %s: %v", snap.Ref.ID, err)
			continue
		}
		summaries = append(summaries, record.Summary())
	}
	return summaries, nil
}

func (f *FirestoreStorage) DeleteGeneration(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return ErrGenerationNotFound
	}

	doc := f.client.Collection(f.collection).Doc(id)
	if _, err := doc.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrGenerationNotFound
		}
		return fmt.Errorf("failed to get generation %s: %w", id, err)
	}
	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete generation %s: %w", id, err)
	}
	return nil
}
