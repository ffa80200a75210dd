package logbuffer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

// RingBuffer keeps the most recent log entries in memory. It is an
// io.Writer for zerolog JSON output, so it can sit in a MultiLevelWriter.
type RingBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	size    int
	start   int
	count   int
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[(rb.start+rb.count)%rb.size] = entry
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// Write decodes one zerolog event. Lines that are not JSON are kept as
// plain messages.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	var event map[string]any
	if err := json.Unmarshal(p, &event); err != nil {
		rb.Add(LogEntry{Time: time.Now(), Message: string(p)})
		return len(p), nil
	}

	entry := LogEntry{Time: time.Now()}
	if v, ok := event[zerolog.LevelFieldName].(string); ok {
		entry.Level = v
	}
	if v, ok := event[zerolog.MessageFieldName].(string); ok {
		entry.Message = v
	}
	if v, ok := event[zerolog.ErrorFieldName].(string); ok {
		entry.Error = v
	}
	if v, ok := event[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(zerolog.TimeFieldFormat, v); err == nil {
			entry.Time = ts
		}
	}
	rb.Add(entry)
	return len(p), nil
}

func (rb *RingBuffer) GetAll() []LogEntry {
	return rb.GetFiltered("", 0)
}

// GetFiltered returns up to limit of the newest entries with the given
// level, oldest first. An empty level matches everything.
func (rb *RingBuffer) GetFiltered(level string, limit int) []LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	var filtered []LogEntry
	for i := rb.count - 1; i >= 0; i-- {
		entry := rb.entries[(rb.start+i)%rb.size]
		if level != "" && entry.Level != level {
			continue
		}
		filtered = append(filtered, entry)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	return filtered
}
