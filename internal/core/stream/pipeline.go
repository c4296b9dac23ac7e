// Package stream produces the live MJPEG frame sequence consumed by the
// video endpoint.
package stream

import (
	"attendance-go/internal/core/processor"
	"attendance-go/internal/vision"

	log "github.com/sirupsen/logrus"
)

// Encoder turns an annotated frame into JPEG bytes.
type Encoder interface {
	EncodeJPEG(frame vision.Frame) ([]byte, error)
}

// Pipeline yields a lazy sequence of annotated JPEG frames from a camera
// source. Once the underlying source closes or a read fails, the pipeline is
// finished for good: a new Pipeline must be created to stream again.
type Pipeline struct {
	source vision.Source
	proc   *processor.FrameProcessor
	enc    Encoder
	done   bool
}

// NewPipeline creates a streaming pipeline over the given source. No frame is
// read until the first call to Next.
func NewPipeline(source vision.Source, proc *processor.FrameProcessor, enc Encoder) *Pipeline {
	return &Pipeline{source: source, proc: proc, enc: enc}
}

// Next returns the next annotated JPEG frame. It reports ok=false when the
// stream has ended, after which every subsequent call also reports false.
// Frames that fail to encode are skipped rather than ending the stream.
func (p *Pipeline) Next() ([]byte, bool) {
	if p.done {
		return nil, false
	}
	for {
		if !p.source.IsOpen() {
			p.done = true
			return nil, false
		}
		frame, ok := p.source.ReadFrame()
		if !ok {
			p.done = true
			return nil, false
		}
		result := p.proc.Process(frame, true)
		data, err := p.enc.EncodeJPEG(result.Annotated)
		if err != nil {
			log.Warnf("Frame encode failed, skipping: %v", err)
			continue
		}
		return data, true
	}
}

// Done reports whether the stream has ended.
func (p *Pipeline) Done() bool {
	return p.done
}
