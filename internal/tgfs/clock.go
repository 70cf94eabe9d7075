package tgfs

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so tree and version timestamps are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation (version ids, directory ids).
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// timestamp normalizes t for persistence: UTC, no monotonic reading.
func timestamp(c Clock) time.Time {
	return c.Now().UTC().Round(0)
}
