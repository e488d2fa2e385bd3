// Package testutil provides mock implementations of the interfaces defined in
// pkg/ingest and its subpackages, plus small filesystem helpers for tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
	"github.com/stackvity/stack-ingest/pkg/ingest/hashing"
	"github.com/stretchr/testify/mock"
)

// MockClassifier provides a mock implementation of classify.Classifier.
type MockClassifier struct {
	mock.Mock
}

// Classify mocks the Classify method.
func (m *MockClassifier) Classify(name string) classify.Category {
	args := m.Called(name)
	c, _ := args.Get(0).(classify.Category)
	return c
}

// ExtensionOf mocks the ExtensionOf method.
func (m *MockClassifier) ExtensionOf(name string) string {
	args := m.Called(name)
	return args.String(0)
}

// MockHasher provides a mock implementation of hashing.Hasher.
type MockHasher struct {
	mock.Mock
}

// Hash mocks the Hash method.
func (m *MockHasher) Hash(ctx context.Context, path string, algo hashing.Algorithm) (string, error) {
	args := m.Called(ctx, path, algo)
	return args.String(0), args.Error(1)
}

// MockSink provides a mock implementation of ingest.Sink.
// Use RecordingSink when the test only needs the published records.
type MockSink struct {
	mock.Mock
}

// Publish mocks the Publish method.
func (m *MockSink) Publish(ctx context.Context, rec ingest.FileRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// Complete mocks the Complete method.
func (m *MockSink) Complete() {
	m.Called()
}

// MockDigestCache provides a mock implementation of ingest.DigestCache.
type MockDigestCache struct {
	mock.Mock
}

// Load mocks the Load method.
func (m *MockDigestCache) Load(cachePath string) error {
	return m.Called(cachePath).Error(0)
}

// Lookup mocks the Lookup method.
func (m *MockDigestCache) Lookup(path string, size int64, modTime time.Time, algorithm string) (string, bool) {
	args := m.Called(path, size, modTime, algorithm)
	return args.String(0), args.Bool(1)
}

// Store mocks the Store method.
func (m *MockDigestCache) Store(path string, size int64, modTime time.Time, algorithm, digest string) {
	m.Called(path, size, modTime, algorithm, digest)
}

// Persist mocks the Persist method.
func (m *MockDigestCache) Persist(cachePath string) error {
	return m.Called(cachePath).Error(0)
}

// MockHooks provides a mock implementation of ingest.Hooks.
// Configure expectations using testify/mock methods (e.g., .On("OnFileStatusUpdate", ...).Return(nil)).
type MockHooks struct {
	mock.Mock
}

// OnFileDiscovered mocks the OnFileDiscovered method.
func (m *MockHooks) OnFileDiscovered(path string) error {
	return m.Called(path).Error(0)
}

// OnFileStatusUpdate mocks the OnFileStatusUpdate method.
func (m *MockHooks) OnFileStatusUpdate(path string, status ingest.Status, message string, duration time.Duration) error {
	return m.Called(path, status, message, duration).Error(0)
}

// OnRunComplete mocks the OnRunComplete method.
func (m *MockHooks) OnRunComplete(report ingest.Report) error {
	return m.Called(report).Error(0)
}

// MockMetrics provides a mock implementation of ingest.Metrics.
type MockMetrics struct {
	mock.Mock
}

// ObserveFile mocks the ObserveFile method.
func (m *MockMetrics) ObserveFile(category classify.Category, status ingest.Status, duration time.Duration) {
	m.Called(category, status, duration)
}

// ObservePublishWait mocks the ObservePublishWait method.
func (m *MockMetrics) ObservePublishWait(duration time.Duration) {
	m.Called(duration)
}

// RecordingSink is an unbounded ingest.Sink that keeps every published record.
// OnPublish, if set, runs before each record is stored and may block or fail.
type RecordingSink struct {
	mu        sync.Mutex
	records   []ingest.FileRecord
	completed int
	OnPublish func(ctx context.Context, rec ingest.FileRecord) error
}

// Publish stores rec unless ctx is done or OnPublish fails.
func (s *RecordingSink) Publish(ctx context.Context, rec ingest.FileRecord) error {
	if s.OnPublish != nil {
		if err := s.OnPublish(ctx, rec); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Complete counts completion calls.
func (s *RecordingSink) Complete() {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
}

// Records returns a copy of the published records.
func (s *RecordingSink) Records() []ingest.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ingest.FileRecord, len(s.records))
	copy(out, s.records)
	return out
}

// CompleteCalls returns how many times Complete was called.
func (s *RecordingSink) CompleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// RecordingHooks is a thread-safe ingest.Hooks that records status updates and the final report.
type RecordingHooks struct {
	mu         sync.Mutex
	discovered []string
	statuses   map[string]ingest.Status
	reports    []ingest.Report
}

// OnFileDiscovered records path.
func (h *RecordingHooks) OnFileDiscovered(path string) error {
	h.mu.Lock()
	h.discovered = append(h.discovered, path)
	h.mu.Unlock()
	return nil
}

// OnFileStatusUpdate records the latest status for path.
func (h *RecordingHooks) OnFileStatusUpdate(path string, status ingest.Status, message string, duration time.Duration) error {
	h.mu.Lock()
	if h.statuses == nil {
		h.statuses = make(map[string]ingest.Status)
	}
	h.statuses[path] = status
	h.mu.Unlock()
	return nil
}

// OnRunComplete records report.
func (h *RecordingHooks) OnRunComplete(report ingest.Report) error {
	h.mu.Lock()
	h.reports = append(h.reports, report)
	h.mu.Unlock()
	return nil
}

// Discovered returns the discovered paths in order.
func (h *RecordingHooks) Discovered() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.discovered...)
}

// Status returns the latest status reported for path.
func (h *RecordingHooks) Status(path string) ingest.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statuses[path]
}

// Reports returns all reports passed to OnRunComplete.
func (h *RecordingHooks) Reports() []ingest.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ingest.Report(nil), h.reports...)
}
