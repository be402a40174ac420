// Package gpubuf encodes the byte images shared with the renderer. Every
// field is a little-endian u32 and offsets are fixed.
package gpubuf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the {capacity, count, pad, pad} prefix of every queue.
	HeaderSize = 16
	// CountOffset is where host-side queue writes start; the capacity word
	// is owned by whoever created the buffer.
	CountOffset = 4

	GridUploadSize     = 8
	BrickmapSize       = 72
	MaxColors          = 512
	BrickUploadSize    = 4 + BrickmapSize + 4 + MaxColors*4
	FeedbackRecordSize = 16
	WorldStateSize     = 16
)

var ErrShortBuffer = errors.New("gpubuf: buffer too short")

var le = binary.LittleEndian

type Header struct {
	Capacity uint32
	Count    uint32
}

func ReadHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortBuffer, HeaderSize, len(b))
	}
	return Header{Capacity: le.Uint32(b[0:]), Count: le.Uint32(b[4:])}, nil
}

func PutHeader(b []byte, h Header) {
	le.PutUint32(b[0:], h.Capacity)
	le.PutUint32(b[4:], h.Count)
	le.PutUint32(b[8:], 0)
	le.PutUint32(b[12:], 0)
}

// QueueSize is the full byte size of a queue holding capacity records.
func QueueSize(capacity, recordSize int) int {
	return HeaderSize + capacity*recordSize
}

// NewQueue allocates a zeroed queue with its capacity word set.
func NewQueue(capacity, recordSize int) []byte {
	b := make([]byte, QueueSize(capacity, recordSize))
	PutHeader(b, Header{Capacity: uint32(capacity)})
	return b
}

// WriteQueue copies a host-side queue write (see CountOffset) into queue,
// refusing writes whose count exceeds the queue capacity.
func WriteQueue(queue, write []byte, recordSize int) error {
	h, err := ReadHeader(queue)
	if err != nil {
		return err
	}
	if len(write) < HeaderSize-CountOffset {
		return fmt.Errorf("%w: queue write of %d bytes", ErrShortBuffer, len(write))
	}
	count := le.Uint32(write)
	if count > h.Capacity {
		return fmt.Errorf("gpubuf: queue write of %d records exceeds capacity %d", count, h.Capacity)
	}
	if len(write) != HeaderSize-CountOffset+int(count)*recordSize {
		return fmt.Errorf("gpubuf: queue write is %d bytes for %d records", len(write), count)
	}
	copy(queue[CountOffset:], write)
	return nil
}

// queueRecords returns the record region holding the first count records.
func queueRecords(queue []byte, recordSize int) ([]byte, uint32, error) {
	h, err := ReadHeader(queue)
	if err != nil {
		return nil, 0, err
	}
	count := h.Count
	if count > h.Capacity {
		count = h.Capacity
	}
	need := HeaderSize + int(count)*recordSize
	if len(queue) < need {
		return nil, 0, fmt.Errorf("%w: %d records need %d bytes, have %d", ErrShortBuffer, count, need, len(queue))
	}
	return queue[HeaderSize:need], count, nil
}

// newWrite allocates a host-side queue write for count records.
func newWrite(count, recordSize int) []byte {
	b := make([]byte, HeaderSize-CountOffset+count*recordSize)
	le.PutUint32(b, uint32(count))
	return b
}

const writeHeader = HeaderSize - CountOffset
