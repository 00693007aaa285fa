package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mailsync/internal/model"
)

// journalDepth bounds how many events may wait for the Recorder.
const journalDepth = 64

type journalEntry struct {
	ev      model.LifecycleEvent
	flushed chan struct{}
}

// journal hands lifecycle events to the Recorder on a single goroutine,
// in the order they were added. add never blocks; a full queue drops the
// event with a warning.
type journal struct {
	recorder Recorder
	logger   *slog.Logger
	entries  chan journalEntry
}

func newJournal(r Recorder, logger *slog.Logger) *journal {
	j := &journal{
		recorder: r,
		logger:   logger,
		entries:  make(chan journalEntry, journalDepth),
	}
	go j.write()
	return j
}

func (j *journal) add(ev model.LifecycleEvent) {
	select {
	case j.entries <- journalEntry{ev: ev}:
	default:
		j.logger.Warn("lifecycle journal full, dropping event", "kind", ev.Kind)
	}
}

func (j *journal) write() {
	for e := range j.entries {
		if e.flushed != nil {
			close(e.flushed)
			continue
		}
		if err := j.recorder.RecordEvent(context.Background(), e.ev); err != nil {
			j.logger.Warn("recording lifecycle event", "kind", e.ev.Kind, "error", err)
		}
	}
}

// flush waits until every event added so far has been written.
func (j *journal) flush(ctx context.Context) error {
	flushed := make(chan struct{})
	select {
	case j.entries <- journalEntry{flushed: flushed}:
	case <-ctx.Done():
		return fmt.Errorf("flushing lifecycle journal: %w", ctx.Err())
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing lifecycle journal: %w", ctx.Err())
	}
}
