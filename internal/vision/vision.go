// Package vision defines the frame contract and the interfaces to the
// external vision primitives (face location and descriptor extraction) and to
// camera-like frame sources. Implementations live under internal/integrations.
package vision

import (
	"attendance-go/internal/core/face"
)

// Box is a face bounding box in frame-pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the box width in pixels.
func (b Box) Width() int { return b.Right - b.Left }

// Height returns the box height in pixels.
func (b Box) Height() int { return b.Bottom - b.Top }

// Frame is one raw video frame: 8-bit, 3-channel BGR, row-major
// height×width×3 layout.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// Valid reports whether the frame satisfies the raw frame contract. Camera
// drivers occasionally emit malformed frames, so callers treat an invalid
// frame as "no data" rather than as a fault.
func (f Frame) Valid() bool {
	if f.Width <= 0 || f.Height <= 0 || f.Channels != 3 {
		return false
	}
	return len(f.Data) == f.Width*f.Height*f.Channels
}

// Provider supplies the vision primitives. The positions of the returned
// descriptors align with the boxes passed to ExtractDescriptors.
type Provider interface {
	LocateFaces(f Frame) ([]Box, error)
	ExtractDescriptors(f Frame, boxes []Box) ([]face.Descriptor, error)
}

// Source yields frames from a camera-like device. ReadFrame returns ok=false
// on a transient read failure or when the source is closed; the caller decides
// whether to keep trying.
type Source interface {
	ReadFrame() (Frame, bool)
	IsOpen() bool
}

// Camera is an exclusively-owned video device. Open and Close manage the
// device lifecycle; Close is idempotent and is the single cancellation signal
// observed by streaming consumers.
type Camera interface {
	Source
	Open(deviceIndex int) bool
	Close()
}
