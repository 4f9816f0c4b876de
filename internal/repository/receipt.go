package repository

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// Receipt is the persisted extraction result. Optional fields are pointers
// with omitempty so absent values are omitted from the stored document
// rather than written as empty strings.
type Receipt struct {
	OwnerID      string   `firestore:"user_uid"`
	FileName     string   `firestore:"file_name"`
	ImageURL     string   `firestore:"image_url"`
	StoreName    *string  `firestore:"store_name,omitempty"`
	StoreAddress *string  `firestore:"store_address,omitempty"`
	Date         *string  `firestore:"date,omitempty"`
	Time         *string  `firestore:"time,omitempty"`
	TotalAmount  *float64 `firestore:"total_amount,omitempty"`
	Categories   []string `firestore:"categories"`
	ParseError   *string  `firestore:"parse_error,omitempty"`
	ProcessedAt  string   `firestore:"processed_at"`
}

// ReceiptRepository persists extraction results and returns the stored
// document's identifier.
type ReceiptRepository interface {
	Create(ctx context.Context, receipt *Receipt) (string, error)
}

type FirestoreRepository struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewFirestoreRepository(ctx context.Context, projectID, collection string, logger *slog.Logger, opts ...option.ClientOption) (*FirestoreRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	logger.Info("repository.client.initialized", "project_id", projectID, "collection", collection)
	return &FirestoreRepository{client: client, collection: collection, logger: logger}, nil
}

func (r *FirestoreRepository) Create(ctx context.Context, receipt *Receipt) (string, error) {
	ref, _, err := r.client.Collection(r.collection).Add(ctx, receipt)
	if err != nil {
		return "", fmt.Errorf("persist receipt %s: %w", receipt.FileName, err)
	}
	r.logger.Info("repository.receipt.created", "doc_id", ref.ID, "file_name", receipt.FileName)
	return ref.ID, nil
}

func (r *FirestoreRepository) Close() error {
	return r.client.Close()
}
