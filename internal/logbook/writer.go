package logbook

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the async writer backlog
const DefaultQueueSize = 128

// Writer records traffic without blocking the radio paths. Entries
// are queued and written by a background goroutine; when the queue is
// full the entry is counted as dropped rather than stalling a burst.
type Writer struct {
	repo   *EntryRepository
	logger *log.Logger

	queue     chan Entry
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewWriter starts the background writer
func NewWriter(repo *EntryRepository, queueSize int, logger *log.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.Default()
	}

	w := &Writer{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, queueSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for entry := range w.queue {
		if err := w.repo.Append(&entry); err != nil {
			w.logger.Printf("logbook: failed to append entry: %v", err)
		}
	}
}

// RecordRx logs a received payload
func (w *Writer) RecordRx(payload []byte, confidence float64) {
	w.record(Entry{
		Direction:  DirectionRx,
		Payload:    append([]byte(nil), payload...),
		Size:       len(payload),
		Confidence: confidence,
		At:         time.Now(),
	})
}

// RecordTx logs a transmitted payload
func (w *Writer) RecordTx(payload []byte) {
	w.record(Entry{
		Direction:  DirectionTx,
		Payload:    append([]byte(nil), payload...),
		Size:       len(payload),
		Confidence: -1,
		At:         time.Now(),
	})
}

func (w *Writer) record(entry Entry) {
	select {
	case w.queue <- entry:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns how many entries were shed on a full queue
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Close flushes the queue and stops the background writer
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
	})
	<-w.done
}
