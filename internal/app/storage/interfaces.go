// Package storage defines the document store boundary the configuration
// service persists through.
package storage

import (
	"context"
	"encoding/json"
)

// DocumentStore is a key-value document store addressed by collection and
// document ID. Get reports absence through the bool, never through the
// error: a missing document is control flow, not a failure.
type DocumentStore interface {
	Get(ctx context.Context, collection, docID string) (json.RawMessage, bool, error)
	Set(ctx context.Context, collection, docID string, data json.RawMessage) error
}
