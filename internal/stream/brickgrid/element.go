package brickgrid

import "fmt"

// Flag is the load state of a grid cell.
type Flag uint32

const (
	Empty    Flag = 0
	Unloaded Flag = 1
	Loading  Flag = 2 // set GPU-side only: request in flight
	Loaded   Flag = 4
)

const (
	flagBits = 3
	flagMask = 1<<flagBits - 1

	// MaxPointer is the largest cache slot an element can address.
	MaxPointer = 1<<(32-flagBits) - 1
)

func (f Flag) String() string {
	switch f {
	case Empty:
		return "EMPTY"
	case Unloaded:
		return "UNLOADED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	default:
		return fmt.Sprintf("FLAG(%d)", uint32(f))
	}
}

// Element is the GPU-visible word for one grid cell: flag in the low 3 bits,
// brickmap cache pointer in the high 29.
type Element uint32

func NewElement(pointer uint32, flag Flag) Element {
	return Element(pointer<<flagBits | uint32(flag)&flagMask)
}

// Pointer is only meaningful when Flag() == Loaded.
func (e Element) Pointer() uint32 { return uint32(e) >> flagBits }

// Flag decodes the load state; undefined bit patterns read as Empty.
func (e Element) Flag() Flag {
	switch f := Flag(uint32(e) & flagMask); f {
	case Unloaded, Loading, Loaded:
		return f
	default:
		return Empty
	}
}

func (e Element) IsLoaded() bool { return e.Flag() == Loaded }

func (e Element) String() string {
	if e.IsLoaded() {
		return fmt.Sprintf("%s(%d)", e.Flag(), e.Pointer())
	}
	return e.Flag().String()
}
