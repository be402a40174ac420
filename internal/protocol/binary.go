package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies the payload of a binary frame.
type Tag uint8

const (
	// TagWorldState carries the 16-byte world state buffer, sent once after WELCOME.
	TagWorldState Tag = 1
	// TagGridUpload carries the host write into the grid upload queue.
	TagGridUpload Tag = 2
	// TagBrickUpload carries the host write into the brick upload queue.
	TagBrickUpload Tag = 3
	// TagFeedback carries the renderer's full feedback buffer (renderer -> server).
	TagFeedback Tag = 4
	// TagFeedbackReset tells the renderer to zero its feedback count.
	TagFeedbackReset Tag = 5
)

// BinaryHeaderSize is tag(1) + pad(3) + frame(8).
const BinaryHeaderSize = 12

var ErrBadBinary = errors.New("protocol: malformed binary frame")

type Binary struct {
	Tag     Tag
	Frame   uint64
	Payload []byte
}

func (t Tag) String() string {
	switch t {
	case TagWorldState:
		return "world_state"
	case TagGridUpload:
		return "grid_upload"
	case TagBrickUpload:
		return "brick_upload"
	case TagFeedback:
		return "feedback"
	case TagFeedbackReset:
		return "feedback_reset"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

func (t Tag) valid() bool { return t >= TagWorldState && t <= TagFeedbackReset }

func EncodeBinary(tag Tag, frame uint64, payload []byte) []byte {
	b := make([]byte, BinaryHeaderSize+len(payload))
	b[0] = byte(tag)
	binary.LittleEndian.PutUint64(b[4:], frame)
	copy(b[BinaryHeaderSize:], payload)
	return b
}

// DecodeBinary splits a frame; the payload aliases b.
func DecodeBinary(b []byte) (Binary, error) {
	if len(b) < BinaryHeaderSize {
		return Binary{}, fmt.Errorf("%w: %d bytes", ErrBadBinary, len(b))
	}
	tag := Tag(b[0])
	if !tag.valid() {
		return Binary{}, fmt.Errorf("%w: unknown %s", ErrBadBinary, tag)
	}
	return Binary{
		Tag:     tag,
		Frame:   binary.LittleEndian.Uint64(b[4:]),
		Payload: b[BinaryHeaderSize:],
	}, nil
}
