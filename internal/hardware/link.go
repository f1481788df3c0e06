// Package hardware is the boundary to the contactless radio.
//
// The radio is a single exclusive resource. Callers acquire it with Acquire,
// issue every operation through the returned Session, and Release it on every
// exit path. Session calls carry the caller's context: when the context is
// cancelled or its deadline passes, the call returns immediately even if the
// driver is still blocked.
package hardware

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/spoolscan/internal/mifare"
)

var (
	// ErrTransient marks a single failed attempt (one key, one block) that the
	// caller is expected to absorb and move past.
	ErrTransient = errors.New("transient hardware failure")

	// ErrNotAuthenticated is returned when reading a block whose sector has not
	// been authenticated on the current link.
	ErrNotAuthenticated = errors.New("sector not authenticated")

	// ErrDriverPanic wraps a panic raised inside a driver call.
	ErrDriverPanic = errors.New("hardware driver panicked")

	// ErrReleased is returned for calls made after the session was released.
	ErrReleased = errors.New("hardware session released")
)

// Tag is what the radio reports about the tag in the field.
type Tag struct {
	UID  []byte
	Type string // e.g. "MIFARE Classic 1K"
}

// Link is the capability a platform NFC driver provides. Implementations
// need not be safe for concurrent use; the scanner never overlaps calls.
type Link interface {
	// RequestTechnology blocks until a tag is in the field and the driver has
	// opened the MIFARE Classic technology on it.
	RequestTechnology(ctx context.Context) error

	// CancelTechnologyRequest releases the technology handle and unblocks a
	// pending RequestTechnology.
	CancelTechnologyRequest() error

	// GetTag returns the tag currently in the field, or nil if there is none.
	GetTag(ctx context.Context) (*Tag, error)

	// Authenticate tries key against sector. false with a nil error means the
	// tag rejected the key.
	Authenticate(ctx context.Context, sector int, key mifare.Key) (bool, error)

	// ReadBlock reads one 16-byte block by absolute block number.
	ReadBlock(ctx context.Context, block int) ([]byte, error)
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
