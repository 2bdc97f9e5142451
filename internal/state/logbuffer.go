package state

import (
	"sync"
	"time"

	"trainjob/internal/api"
)

// LogBuffer holds the ordered log stream of one job. Appends are
// sequenced; tailers block on a notification channel that is replaced
// on every append, so a tailer never misses a record and can still be
// abandoned through its own context.
type LogBuffer struct {
	mu      sync.Mutex
	records []api.LogRecord
	notify  chan struct{}
	closed  bool
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{notify: make(chan struct{})}
}

// Append adds one line to the stream. Appends after Close are dropped;
// the job is terminal and its stream is sealed.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.records = append(b.records, api.LogRecord{
		Seq:       len(b.records),
		Timestamp: time.Now(),
		Line:      line,
	})
	close(b.notify)
	b.notify = make(chan struct{})
}

// Close seals the stream. Blocked tailers wake up and observe the end.
func (b *LogBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// Len returns the current tail position.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Next returns the records at and after from. When none exist yet it
// returns a channel that is closed on the next append or on Close;
// done=true means the stream is sealed and no further records will
// arrive beyond those returned.
func (b *LogBuffer) Next(from int) (recs []api.LogRecord, wait <-chan struct{}, done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from < len(b.records) {
		recs = make([]api.LogRecord, len(b.records)-from)
		copy(recs, b.records[from:])
	}
	return recs, b.notify, b.closed
}

// Logs is the registry of per-job log buffers, keyed by job name.
type Logs struct {
	mu      sync.Mutex
	buffers map[string]*LogBuffer
}

func NewLogs() *Logs {
	return &Logs{buffers: make(map[string]*LogBuffer)}
}

// Create registers a buffer for a freshly submitted job.
func (l *Logs) Create(name string) *LogBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := NewLogBuffer()
	l.buffers[name] = buf
	return buf
}

// Get returns the buffer for name, or nil when the job never had one
// (e.g. a record restored from the database after a restart).
func (l *Logs) Get(name string) *LogBuffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffers[name]
}
