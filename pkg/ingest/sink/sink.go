// Package sink provides the bounded channel-backed queue records are published to.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/stackvity/stack-ingest/pkg/ingest"
)

// ErrSinkClosed is returned by Publish after Complete has been called.
var ErrSinkClosed = errors.New("sink is closed")

// ChannelSink is an ingest.Sink backed by a buffered channel. Publish blocks while
// the buffer is full; the consumer drains Records until it is closed by Complete.
type ChannelSink struct {
	records  chan ingest.FileRecord
	mu       sync.RWMutex
	closed   bool
	once     sync.Once
	done     chan struct{}
	capacity int
}

var _ ingest.Sink = (*ChannelSink)(nil)

// NewChannelSink creates a sink buffering up to capacity records. Values below 1
// use ingest.DefaultSinkCapacity.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity < 1 {
		capacity = ingest.DefaultSinkCapacity
	}
	return &ChannelSink{
		records:  make(chan ingest.FileRecord, capacity),
		done:     make(chan struct{}),
		capacity: capacity,
	}
}

// Publish enqueues rec, blocking while the buffer is full. It returns ctx.Err()
// if ctx is done first and ErrSinkClosed once the sink is completed.
func (s *ChannelSink) Publish(ctx context.Context, rec ingest.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// The read lock keeps Complete from closing the channel mid-send.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSinkClosed
	}
}

// Complete closes the record channel. Safe to call more than once.
func (s *ChannelSink) Complete() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.records)
		s.mu.Unlock()
	})
}

// Records returns the channel consumers drain. It is closed by Complete.
func (s *ChannelSink) Records() <-chan ingest.FileRecord { return s.records }

// Completed returns a channel closed when Complete is called.
func (s *ChannelSink) Completed() <-chan struct{} { return s.done }

// Cap returns the buffer capacity.
func (s *ChannelSink) Cap() int { return s.capacity }

// Len returns the number of buffered records.
func (s *ChannelSink) Len() int { return len(s.records) }
