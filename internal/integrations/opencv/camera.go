// Package opencv provides the gocv-backed camera, image loading and overlay
// drawing used by the live recognition features.
package opencv

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"

	"attendance-go/config"
	"attendance-go/internal/vision"
)

// Camera wraps a gocv video capture device. All reads are serialized through
// a mutex because OpenCV capture handles are not safe for concurrent use.
// Close is idempotent and must be called explicitly; there is no finalizer.
type Camera struct {
	cfg  config.CameraConfig
	mu   sync.Mutex
	cap  *gocv.VideoCapture
	open bool
}

// NewCamera creates a camera in the closed state.
func NewCamera(cfg config.CameraConfig) *Camera {
	return &Camera{cfg: cfg}
}

// Open opens the capture device with the given index and applies the
// configured resolution and frame rate. Property sets are best-effort; many
// drivers silently ignore them. Opening an already open camera is a no-op
// that reports success.
func (c *Camera) Open(deviceIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return true
	}

	cap, err := gocv.OpenVideoCapture(deviceIndex)
	if err != nil {
		log.Errorf("Failed to open camera device %d: %v", deviceIndex, err)
		return false
	}
	if !cap.IsOpened() {
		log.Errorf("Camera device %d opened but reports not ready", deviceIndex)
		cap.Close()
		return false
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.FrameWidth))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.FrameHeight))
	cap.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))

	c.cap = cap
	c.open = true
	log.Infof("Camera device %d opened (%dx%d @ %d fps requested)",
		deviceIndex, c.cfg.FrameWidth, c.cfg.FrameHeight, c.cfg.FPS)
	return true
}

// ReadFrame grabs one BGR frame from the device. It reports ok=false on a
// closed camera or a transient read failure; callers decide whether to retry
// or tear down.
func (c *Camera) ReadFrame() (vision.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return vision.Frame{}, false
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := c.cap.Read(&mat); !ok || mat.Empty() {
		return vision.Frame{}, false
	}
	if mat.Channels() != 3 {
		converted := gocv.NewMat()
		defer converted.Close()
		gocv.CvtColor(mat, &converted, gocv.ColorGrayToBGR)
		return matToFrame(converted)
	}
	return matToFrame(mat)
}

// IsOpen reports whether the camera is currently open.
func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close releases the capture device. Calling Close on a closed camera does
// nothing.
func (c *Camera) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return
	}
	if err := c.cap.Close(); err != nil {
		log.Warnf("Error releasing camera: %v", err)
	}
	c.cap = nil
	c.open = false
	log.Info("Camera released")
}

func matToFrame(mat gocv.Mat) (vision.Frame, bool) {
	data := mat.ToBytes()
	frame := vision.Frame{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
		Data:     data,
	}
	if !frame.Valid() {
		return vision.Frame{}, false
	}
	return frame, true
}

// LoadFrame reads an image file from disk into a frame. Used for descriptor
// extraction from uploaded photos.
func LoadFrame(path string) (vision.Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return vision.Frame{}, fmt.Errorf("could not read image %s", path)
	}
	defer mat.Close()

	frame, ok := matToFrame(mat)
	if !ok {
		return vision.Frame{}, fmt.Errorf("image %s decoded to an invalid frame", path)
	}
	return frame, nil
}
