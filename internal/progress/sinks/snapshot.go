package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/patchtrace/patchtrace/internal/advisory"
	"github.com/patchtrace/patchtrace/internal/progress"
)

// Snapshot is the point-in-time view of a running batch that the interactive
// surface polls. Counters are updated atomically under one lock so a reader
// never observes a partial update.
type Snapshot struct {
	RunID        string          `json:"run_id"`
	Running      bool            `json:"running"`
	Current      int             `json:"current"`
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	BlockedCount int             `json:"blocked_count"`
	EmptyCount   int             `json:"empty_count"`
	LinksFound   int             `json:"links_found"`
	LastURL      string          `json:"last_url,omitempty"`
	LastStatus   advisory.Status `json:"last_status,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Note         string          `json:"note,omitempty"`
}

// SnapshotSink folds progress events into a Snapshot. It is the only state
// shared between the batch worker and its observers.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink creates an empty sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume folds the batch into the snapshot.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.snap = Snapshot{
			RunID:     evt.RunUUID().String(),
			Running:   true,
			Total:     evt.Total,
			StartedAt: evt.TS,
		}
	case progress.StageURLStart:
		s.snap.LastURL = evt.URL
	case progress.StageURLDone:
		s.snap.Current = evt.Current
		s.snap.Total = evt.Total
		s.snap.LastURL = evt.URL
		s.snap.LastStatus = evt.Status
		s.snap.LinksFound += evt.Links
		switch evt.Status {
		case advisory.StatusSuccess:
			s.snap.SuccessCount++
		case advisory.StatusFailed:
			s.snap.FailedCount++
		case advisory.StatusBlocked:
			s.snap.BlockedCount++
		case advisory.StatusEmpty:
			s.snap.EmptyCount++
		}
	case progress.StageRunDone, progress.StageRunError:
		ts := evt.TS
		s.snap.Running = false
		s.snap.FinishedAt = &ts
		s.snap.Note = evt.Note
	}
}

// Current returns a copy of the snapshot.
func (s *SnapshotSink) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
