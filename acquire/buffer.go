package acquire

import (
	"errors"
	"fmt"
	"iter"
)

// DefaultCapacity is the number of samples kept by kozmon
const DefaultCapacity = 0x10000

var (
	// ErrCapacity is generated for a buffer capacity below one
	ErrCapacity = errors.New("acquire: buffer capacity must be positive")

	// ErrOverflow is the panic value of Append on a full buffer
	ErrOverflow = errors.New("acquire: append to full buffer")
)

// Record is one stored sample
type Record struct {
	Channel int
	Value   float64

	// Time is the logical timestamp in seconds
	Time float64
}

// Buffer is a fixed capacity, append only sample store.  All storage is
// allocated by NewBuffer.
type Buffer struct {
	records []Record
	pos     int
}

// NewBuffer allocates a buffer holding capacity records
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, capacity)
	}
	return &Buffer{records: make([]Record, capacity)}, nil
}

// Append stores a record and reports whether the buffer is now full.
// Appending to a full buffer panics with ErrOverflow.
func (b *Buffer) Append(channel int, value, timestamp float64) bool {
	if b.pos >= len(b.records) {
		panic(ErrOverflow)
	}
	b.records[b.pos] = Record{Channel: channel, Value: value, Time: timestamp}
	b.pos++
	return b.pos == len(b.records)
}

// Drain yields the stored records in insertion order.  It does not modify
// the buffer and may be iterated any number of times.
func (b *Buffer) Drain() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for i := 0; i < b.pos; i++ {
			if !yield(b.records[i]) {
				return
			}
		}
	}
}

// Len returns the number of stored records
func (b *Buffer) Len() int {
	return b.pos
}

// Cap returns the capacity
func (b *Buffer) Cap() int {
	return len(b.records)
}

// Full reports whether another Append would panic
func (b *Buffer) Full() bool {
	return b.pos == len(b.records)
}
