package proc

import (
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	// ErrNothingPlaying is returned by controls that need an active track.
	ErrNothingPlaying = errors.New("nothing is playing")
	// ErrNotConnected is returned when the guild has no voice connection.
	ErrNotConnected = errors.New("not connected to voice")
	// ErrSuperseded is returned when a stop or disconnect happened while a
	// request was still resolving.
	ErrSuperseded = errors.New("request superseded by stop")
)

// ResolutionError wraps a metadata, search or download failure.
type ResolutionError struct {
	Query string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// InvalidPositionError reports a 1-based queue position outside [1, Size].
type InvalidPositionError struct {
	Position int
	Size     int
}

func (e *InvalidPositionError) Error() string {
	return fmt.Sprintf("position %d out of range [1, %d]", e.Position, e.Size)
}

type PermissionError struct {
	Permission string
	ChannelID  snowflake.ID
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing %s permission in channel %s", e.Permission, e.ChannelID)
}

// ConnectionError wraps a voice transport join failure.
type ConnectionError struct {
	ChannelID snowflake.ID
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.ChannelID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TimeoutError is returned when an outer deadline expires before an
// operation completes.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Op, e.After)
}
