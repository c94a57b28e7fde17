package history

import (
	"sync"

	"eventRelay/internal/filter"
	"eventRelay/internal/model"
)

// slackNum/slackDen give the 2% headroom over the soft limit before a trim
// copies the slice; trimming on every append would thrash.
const (
	slackNum = 102
	slackDen = 100
)

// Buffer is a bounded chronological window of decoded rows. A single writer
// appends batches; concurrent readers query consistent snapshots.
type Buffer struct {
	mu    sync.RWMutex
	limit int
	rows  []model.Row
}

// New creates a buffer with the given soft row limit.
func New(limit int) *Buffer {
	if limit < 0 {
		limit = 0
	}
	return &Buffer{limit: limit}
}

// Append adds rows in order and trims the oldest excess once the buffer
// exceeds the soft limit plus slack.
func (b *Buffer) Append(rows []model.Row) {
	if len(rows) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows = append(b.rows, rows...)
	if len(b.rows) > b.limit*slackNum/slackDen {
		trimmed := make([]model.Row, b.limit)
		copy(trimmed, b.rows[len(b.rows)-b.limit:])
		b.rows = trimmed
	}
}

// Len returns the current number of buffered rows.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Query returns the last `limit` rows matching spec, in original chronological
// order. A limit of zero or less returns nothing.
func (b *Buffer) Query(spec any, limit int) []model.Row {
	if limit <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]model.Row, 0, limit)
	for i := len(b.rows) - 1; i >= 0 && len(matched) < limit; i-- {
		if filter.Matches(spec, b.rows[i].Fields) {
			matched = append(matched, b.rows[i])
		}
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}
