package telemetry

import (
	"context"
	"time"
)

// Journal records the outcome of every collector submission. It is an
// audit trail; payloads are never stored or replayed from it.
type Journal interface {
	Record(ctx context.Context, rec *DeliveryRecord) error
	Close() error
}

// Repository is the storage behind a Journal.
type Repository interface {
	Record(rec *DeliveryRecord) error
	Close() error
}

// DeliveryRecord is one submission outcome.
type DeliveryRecord struct {
	Timestamp time.Time
	Endpoint  string
	Method    string
	Bytes     int
	Status    int
	Sent      bool
	Retry     bool
	Delay     time.Duration
	Unload    bool
	Duration  time.Duration
	Error     string
}
