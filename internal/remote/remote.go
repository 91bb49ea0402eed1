// Package remote abstracts the cloud document backend used for time log
// upload, trusted time probes, and remote change delivery.
package remote

import (
	"context"
	"encoding/json"
)

// Document is a raw remote record with its server-side version metadata.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt int64           `json:"updatedAt"` // server timestamp, ms
	DeviceID  string          `json:"deviceId"`  // device that wrote it
}

// ChangeHandler receives remote documents pushed by a subscription.
type ChangeHandler func(collection string, doc Document)

// DocumentStore is the cloud backend contract. Implementations must be
// safe for concurrent use. All calls may fail while offline; callers
// are expected to queue and retry.
type DocumentStore interface {
	// Write uploads a document into a collection. Writing the same id
	// twice overwrites the previous version.
	Write(ctx context.Context, collection, id string, data interface{}) error

	// ReadRange returns documents whose timestamp falls inside
	// [sinceMs, untilMs).
	ReadRange(ctx context.Context, collection string, sinceMs, untilMs int64) ([]Document, error)

	// Subscribe registers a handler for pushed changes on a collection.
	// Returns an unsubscribe function.
	Subscribe(collection string, handler ChangeHandler) func()

	// Probe asks the backend for its authoritative time in unix ms.
	Probe(ctx context.Context) (int64, error)
}
