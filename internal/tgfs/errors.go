package tgfs

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the store. Callers match them with errors.Is; the
// wrapped message carries the offending name, path or id.
var (
	ErrInvalidName      = errors.New("invalid name")
	ErrNameConflict     = errors.New("name conflict")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrTransport        = errors.New("transport failure")
	ErrInvalidState     = errors.New("invalid state")
)

// transportError marks err as a remote store failure while keeping the
// original cause reachable through errors.Is / errors.As.
func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
