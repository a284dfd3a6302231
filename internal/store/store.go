// Package store defines the persistence surface the service and the manager
// depend on. Strategy records carry state and health; orders and error
// events are append-only.
package store

import (
	"context"
	"errors"

	"helmsman/internal/store/model"
	"helmsman/internal/strategy"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence collaborator.
type Store interface {
	// LoadStrategies returns every stored strategy, terminal ones included.
	LoadStrategies(ctx context.Context) ([]model.StrategyRecord, error)
	// CreateStrategy inserts a new strategy record. The name is unique.
	CreateStrategy(ctx context.Context, rec *model.StrategyRecord) error
	// FindStrategy returns one strategy by id.
	FindStrategy(ctx context.Context, id string) (*model.StrategyRecord, error)
	// FindStrategyByName returns one strategy by its unique name.
	FindStrategyByName(ctx context.Context, name string) (*model.StrategyRecord, error)
	// SaveStrategyState persists a state transition together with the
	// current health record.
	SaveStrategyState(ctx context.Context, id string, state strategy.State, health strategy.Health) error
	// TouchStrategy records the last tick time.
	TouchStrategy(ctx context.Context, id string, checkedAtUnix int64) error

	// AppendOrder records one accepted order fact. Never updated.
	AppendOrder(ctx context.Context, rec *model.OrderRecord) error
	// ListOrders returns a strategy's order facts in placement order.
	ListOrders(ctx context.Context, strategyID string) ([]model.OrderRecord, error)

	// AppendErrorEvent records one structured error event.
	AppendErrorEvent(ctx context.Context, rec *model.ErrorEventRecord) error
	// ListErrorEvents returns a strategy's most recent error events.
	ListErrorEvents(ctx context.Context, strategyID string, limit int) ([]model.ErrorEventRecord, error)

	Close() error
}
