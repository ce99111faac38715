package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

const slotKey = "slot"

// SyncSlot is a single shared item that peers overwrite with the latest
// sync envelope and poll for changes.
type SyncSlot struct {
	store *Store
}

// NewSyncSlot returns the sync slot of store.
func NewSyncSlot(store *Store) *SyncSlot {
	return &SyncSlot{store: store}
}

// Read returns the slot payload, or nil when the slot was never written.
func (s *SyncSlot) Read(ctx context.Context) ([]byte, error) {
	out, err := s.store.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.store.table),
		ConsistentRead: aws.Bool(true),
		Key:            itemKey(s.store.syncNamespace(), slotKey),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: read sync slot: %w", err)
	}
	payload, ok := out.Item["payload"]
	if !ok || payload.S == nil {
		return nil, nil
	}
	return []byte(*payload.S), nil
}

// Write replaces the slot payload.
func (s *SyncSlot) Write(ctx context.Context, payload []byte) error {
	item := itemKey(s.store.syncNamespace(), slotKey)
	item["payload"] = &dynamodb.AttributeValue{S: aws.String(string(payload))}
	_, err := s.store.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.store.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: write sync slot: %w", err)
	}
	return nil
}
