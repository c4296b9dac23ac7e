// Package dlib implements face location and descriptor extraction on top of
// the dlib models exposed by go-face.
package dlib

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	goface "github.com/Kagami/go-face"
	log "github.com/sirupsen/logrus"

	"attendance-go/internal/core/face"
	"attendance-go/internal/vision"
)

// Provider runs dlib face detection and produces 128-dimensional descriptors.
// The underlying recognizer is not safe for concurrent use, so calls are
// serialized through a mutex.
type Provider struct {
	mu  sync.Mutex
	rec *goface.Recognizer
}

// NewProvider loads the dlib models from modelDir. The directory must contain
// the shape predictor and the ResNet descriptor network that go-face expects.
func NewProvider(modelDir string) (*Provider, error) {
	rec, err := goface.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("loading dlib models from %s: %w", modelDir, err)
	}
	log.Infof("Dlib models loaded from %s", modelDir)
	return &Provider{rec: rec}, nil
}

// Close releases the dlib recognizer.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		p.rec.Close()
		p.rec = nil
	}
}

// LocateFaces returns the bounding boxes of all faces in the frame.
func (p *Provider) LocateFaces(frame vision.Frame) ([]vision.Box, error) {
	faces, err := p.detect(frame)
	if err != nil {
		return nil, err
	}
	boxes := make([]vision.Box, 0, len(faces))
	for _, f := range faces {
		boxes = append(boxes, vision.Box{
			Top:    f.Rectangle.Min.Y,
			Right:  f.Rectangle.Max.X,
			Bottom: f.Rectangle.Max.Y,
			Left:   f.Rectangle.Min.X,
		})
	}
	return boxes, nil
}

// ExtractDescriptors computes descriptors for the faces in the frame. dlib
// detects and describes in one pass, so the boxes argument only sanity-checks
// the expected count; descriptors come back in the same detection order as
// LocateFaces reports for the same frame.
func (p *Provider) ExtractDescriptors(frame vision.Frame, boxes []vision.Box) ([]face.Descriptor, error) {
	faces, err := p.detect(frame)
	if err != nil {
		return nil, err
	}
	if len(boxes) > 0 && len(faces) != len(boxes) {
		log.Debugf("Detection count changed between passes: %d boxes, %d faces", len(boxes), len(faces))
	}
	descriptors := make([]face.Descriptor, 0, len(faces))
	for _, f := range faces {
		d := make(face.Descriptor, len(f.Descriptor))
		for i, v := range f.Descriptor {
			d[i] = v
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func (p *Provider) detect(frame vision.Frame) ([]goface.Face, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("invalid frame: %dx%d, %d channels", frame.Width, frame.Height, frame.Channels)
	}

	jpegData, err := frameToJPEG(frame)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec == nil {
		return nil, fmt.Errorf("recognizer is closed")
	}
	faces, err := p.rec.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("dlib recognition failed: %w", err)
	}
	return faces, nil
}

// frameToJPEG converts a BGR frame to JPEG bytes, the input format go-face
// consumes.
func frameToJPEG(frame vision.Frame) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * 3
			dst := img.PixOffset(x, y)
			// BGR -> RGB
			img.Pix[dst+0] = frame.Data[src+2]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+0]
			img.Pix[dst+3] = 255
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("JPEG encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}
