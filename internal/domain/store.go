package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// InstrumentStore persists instrument metadata.
type InstrumentStore interface {
	Upsert(ctx context.Context, inst Instrument) error
	UpsertBatch(ctx context.Context, insts []Instrument) error
	GetByID(ctx context.Context, id string) (Instrument, error)
	GetByToken(ctx context.Context, tokenID string) (Instrument, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Instrument, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// OpportunityStore persists scored opportunity history.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// FillStore persists execution fills.
type FillStore interface {
	Insert(ctx context.Context, fill Fill) error
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]Fill, error)
	GetLastTimestamp(ctx context.Context) (time.Time, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
