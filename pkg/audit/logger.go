package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timothyplummer/talesofvalor/pkg/auth"
)

// Fill sets the ID, timestamp and actor of an entry when they are missing.
// The actor comes from the request context; without one it is "system".
func Fill(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ActorID == "" {
		e.ActorID = auth.System.ID
		if a, err := auth.ActorFrom(ctx); err == nil {
			e.ActorID = a.ID
		}
	}
	return e
}

// WriterLogger writes each entry as a JSON line prefixed with "AUDIT: ".
type WriterLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterLogger writes to w, or to os.Stdout when w is nil.
func NewWriterLogger(w io.Writer) *WriterLogger {
	if w == nil {
		w = os.Stdout
	}
	return &WriterLogger{writer: w}
}

func (l *WriterLogger) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(Fill(ctx, e))
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(data, '\n')...))
	return err
}

// Multi fans an entry out to every logger. All sinks are attempted; the
// first error is returned.
type Multi []Logger

func (m Multi) Record(ctx context.Context, e Entry) error {
	e = Fill(ctx, e)
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Entries answers from the first sink that can be queried.
func (m Multi) Entries(ctx context.Context, characterID string) ([]Entry, error) {
	for _, l := range m {
		if q, ok := l.(Querier); ok {
			return q.Entries(ctx, characterID)
		}
	}
	return nil, ErrNotQueryable
}
