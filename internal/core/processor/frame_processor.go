// Package processor turns raw frames into recognition results by combining
// the vision primitives with the descriptor registry and matching engine.
package processor

import (
	"attendance-go/internal/core/face"
	"attendance-go/internal/vision"

	log "github.com/sirupsen/logrus"
)

// Recognition is one recognized (or unidentified) face in a frame. Known is
// false for faces that did not match any registry entry; Name is empty then.
type Recognition struct {
	Box        vision.Box `json:"box"`
	Name       string     `json:"name,omitempty"`
	Confidence float64    `json:"confidence"`
	Known      bool       `json:"known"`
}

// Annotator draws recognition overlays onto frames and encodes frames into a
// transportable image format. The gocv-backed implementation lives in
// internal/integrations/opencv.
type Annotator interface {
	Annotate(frame vision.Frame, results []Recognition) (vision.Frame, error)
	EncodeJPEG(frame vision.Frame) ([]byte, error)
}

// Result is the output of processing one frame.
type Result struct {
	Recognitions []Recognition
	// Annotated is the input frame with overlays drawn, or the unmodified
	// input frame when no overlay was requested or drawing failed.
	Annotated vision.Frame
}

// FrameProcessor is a pure per-frame transform: it never mutates the registry
// or any session state.
type FrameProcessor struct {
	provider  vision.Provider
	registry  *face.Registry
	matcher   *face.Matcher
	annotator Annotator
}

// NewFrameProcessor creates a frame processor. The annotator may be nil if
// overlays are never requested.
func NewFrameProcessor(provider vision.Provider, registry *face.Registry, matcher *face.Matcher, annotator Annotator) *FrameProcessor {
	return &FrameProcessor{
		provider:  provider,
		registry:  registry,
		matcher:   matcher,
		annotator: annotator,
	}
}

// Process runs face location, descriptor extraction and matching on one frame.
// Every failure degrades to an empty result set: a malformed frame or a vision
// error must never take down a long-running capture loop.
func (p *FrameProcessor) Process(frame vision.Frame, drawOverlay bool) Result {
	result := Result{Annotated: frame}

	if !frame.Valid() {
		log.Warnf("Skipping invalid frame: %dx%d, %d channels, %d bytes",
			frame.Width, frame.Height, frame.Channels, len(frame.Data))
		return result
	}

	boxes, err := p.provider.LocateFaces(frame)
	if err != nil {
		log.Warnf("Face location failed: %v", err)
		return result
	}
	if len(boxes) == 0 {
		return result
	}

	descriptors, err := p.provider.ExtractDescriptors(frame, boxes)
	if err != nil {
		log.Warnf("Descriptor extraction failed: %v", err)
		return result
	}

	entries := p.registry.Entries()
	for i, d := range descriptors {
		if i >= len(boxes) {
			break
		}
		m, err := p.matcher.Match(d, entries)
		if err != nil {
			log.Warnf("Matching failed for face %d: %v", i, err)
			continue
		}
		result.Recognitions = append(result.Recognitions, Recognition{
			Box:        boxes[i],
			Name:       m.Name,
			Confidence: m.Confidence,
			Known:      m.Known,
		})
	}

	if drawOverlay && p.annotator != nil {
		annotated, err := p.annotator.Annotate(frame, result.Recognitions)
		if err != nil {
			log.Warnf("Overlay drawing failed: %v", err)
		} else {
			result.Annotated = annotated
		}
	}

	return result
}
