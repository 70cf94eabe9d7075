package app

import (
	"strings"
	"time"

	"tgfs-go/internal/tgfs"
)

// Operation describes one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	ID        string
	Name      string
	Args      []string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation starts an operation at the clock's current time.
func NewOperation(name string, args []string, clock tgfs.Clock) *Operation {
	now := clock.Now().UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z"),
		Name:      name,
		Args:      args,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed when err is non-nil and returns err
// unchanged.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Parameters renders the arguments for logging.
func (op *Operation) Parameters() string {
	return strings.Join(op.Args, " ")
}

// Elapsed reports how long the operation has run.
func (op *Operation) Elapsed(clock tgfs.Clock) time.Duration {
	return clock.Now().Sub(op.StartedAt).Truncate(time.Millisecond)
}
