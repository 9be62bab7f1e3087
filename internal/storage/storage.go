// Package storage defines the turn history store used by the turn frontdoor
// and the control plane.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a turn record does not exist.
var ErrNotFound = errors.New("turn not found")

// TurnStatus is the final outcome of a relayed turn.
type TurnStatus string

const (
	TurnStatusCompleted TurnStatus = "completed"
	TurnStatusFailed    TurnStatus = "failed"
	TurnStatusCanceled  TurnStatus = "canceled"
)

// TurnRecord summarizes one POST /turn_response call.
type TurnRecord struct {
	ID          string        `json:"id"`
	ResponseID  string        `json:"response_id,omitempty"`
	Model       string        `json:"model"`
	Status      TurnStatus    `json:"status"`
	InputItems  int           `json:"input_items"`
	InputTokens int           `json:"input_tokens"`
	EventCount  int           `json:"event_count"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ListOptions controls turn listing.
type ListOptions struct {
	Limit  int
	Offset int
	Status TurnStatus
}

// TurnStore persists turn records.
type TurnStore interface {
	// SaveTurn inserts a record. CreatedAt is set when zero.
	SaveTurn(ctx context.Context, rec *TurnRecord) error

	// GetTurn returns the record with the given id, or ErrNotFound.
	GetTurn(ctx context.Context, id string) (*TurnRecord, error)

	// ListTurns returns records newest first.
	ListTurns(ctx context.Context, opts ListOptions) ([]*TurnRecord, error)

	// Close releases the underlying resources.
	Close() error
}

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 50
