// Package progress defines the event stream published by the batch worker and
// consumed by observers. The worker and the interactive surface share nothing
// but these messages.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchtrace/patchtrace/internal/advisory"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageURLStart Stage = "URL_START"
	StageURLDone  Stage = "URL_DONE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event captures a single milestone of batch progress.
type Event struct {
	// RunID uniquely identifies a batch run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// URL is the advisory URL for URL-scoped events.
	URL string
	// Site scopes URL events to a host label.
	Site string
	// Status carries the resolution outcome on URL_DONE.
	Status advisory.Status
	// Current and Total describe batch position after this event.
	Current int
	Total   int
	// Links counts download links recovered by this resolution.
	Links int
	// Dur captures execution latency for resolutions and run completion.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageURLStart:
		if e.URL == "" {
			return errors.New("url start requires url")
		}
	case StageURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
		if e.Status == "" {
			return errors.New("url done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
