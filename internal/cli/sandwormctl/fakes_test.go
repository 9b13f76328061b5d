package sandwormctl

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sandworm/sandworm/internal/journal"
	"github.com/sandworm/sandworm/internal/storage"
)

type memoryJournal struct {
	mu        sync.Mutex
	entries   []journal.Entry
	healthErr error
}

func (m *memoryJournal) HealthCheck(context.Context) error { return m.healthErr }

func (m *memoryJournal) RecordSubmission(_ context.Context, in journal.Submission) (journal.Entry, error) {
	if err := in.Validate(); err != nil {
		return journal.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := journal.Entry{
		ExecutionID:       in.ExecutionID,
		Kind:              in.Kind,
		QueryID:           in.QueryID,
		SQLText:           in.SQLText,
		ParentExecutionID: in.ParentExecutionID,
		SubmittedAt:       time.Now().UTC(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memoryJournal) RecordOutcome(_ context.Context, in journal.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ExecutionID != in.ExecutionID {
			continue
		}
		finishedAt := in.FinishedAt
		m.entries[i].Status = in.Status
		m.entries[i].ErrorMessage = in.ErrorMessage
		m.entries[i].RowCount = in.RowCount
		m.entries[i].FinishedAt = &finishedAt
		return nil
	}
	return journal.ErrNotFound
}

func (m *memoryJournal) Get(_ context.Context, executionID string) (journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.ExecutionID == executionID {
			return entry, nil
		}
	}
	return journal.Entry{}, journal.ErrNotFound
}

func (m *memoryJournal) ListRecent(_ context.Context, limit int) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]journal.Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

// traceRecorder captures the trace header of every outgoing request.
type traceRecorder struct {
	mu     sync.Mutex
	traces []string
}

func (r *traceRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	r.traces = append(r.traces, req.Header.Get("X-Trace-ID"))
	r.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	options map[string]storage.PutOptions
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, options: map[string]storage.PutOptions{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	m.options[key] = opts
	return storage.ObjectInfo{Key: key, Size: int64(buf.Len())}, nil
}

func (m *memoryStore) URI(key string) (string, error) { return "memory://" + key, nil }

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}
