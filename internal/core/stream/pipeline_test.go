package stream

import (
	"errors"
	"testing"

	"attendance-go/internal/core/face"
	"attendance-go/internal/core/processor"
	"attendance-go/internal/vision"
)

type fakeSource struct {
	frames []vision.Frame
	pos    int
	open   bool
}

func (s *fakeSource) ReadFrame() (vision.Frame, bool) {
	if !s.open || s.pos >= len(s.frames) {
		return vision.Frame{}, false
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, true
}

func (s *fakeSource) IsOpen() bool { return s.open }

type fakeEncoder struct {
	failures int
	calls    int
}

func (e *fakeEncoder) EncodeJPEG(frame vision.Frame) ([]byte, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("encode failed")
	}
	return []byte{0xFF, 0xD8, byte(e.calls)}, nil
}

type noFaceProvider struct{}

func (noFaceProvider) LocateFaces(vision.Frame) ([]vision.Box, error) { return nil, nil }
func (noFaceProvider) ExtractDescriptors(vision.Frame, []vision.Box) ([]face.Descriptor, error) {
	return nil, nil
}

func testFrame() vision.Frame {
	return vision.Frame{Width: 2, Height: 2, Channels: 3, Data: make([]byte, 12)}
}

func newTestPipeline(source vision.Source, enc Encoder) *Pipeline {
	matcher, _ := face.NewMatcher(face.DefaultTolerance)
	proc := processor.NewFrameProcessor(noFaceProvider{}, face.NewRegistry(), matcher, nil)
	return NewPipeline(source, proc, enc)
}

func TestPipelineClosedSource(t *testing.T) {
	p := newTestPipeline(&fakeSource{open: false}, &fakeEncoder{})
	if _, ok := p.Next(); ok {
		t.Error("closed source must yield no frames")
	}
	if !p.Done() {
		t.Error("pipeline over a closed source must be done")
	}
}

func TestPipelineYieldsFramesThenEnds(t *testing.T) {
	source := &fakeSource{open: true, frames: []vision.Frame{testFrame(), testFrame()}}
	p := newTestPipeline(source, &fakeEncoder{})

	for i := 0; i < 2; i++ {
		data, ok := p.Next()
		if !ok {
			t.Fatalf("frame %d: expected a frame", i)
		}
		if len(data) == 0 || data[0] != 0xFF {
			t.Errorf("frame %d: unexpected payload %v", i, data)
		}
	}

	// Source exhausted: the read failure ends the stream.
	if _, ok := p.Next(); ok {
		t.Error("exhausted source must end the stream")
	}
	if !p.Done() {
		t.Error("pipeline must be done after a failed read")
	}
}

func TestPipelineIsNotRestartable(t *testing.T) {
	source := &fakeSource{open: true}
	p := newTestPipeline(source, &fakeEncoder{})

	if _, ok := p.Next(); ok {
		t.Fatal("expected immediate end")
	}

	// Even with the source delivering again, a finished pipeline stays done.
	source.frames = []vision.Frame{testFrame()}
	source.pos = 0
	if _, ok := p.Next(); ok {
		t.Error("a finished pipeline must never yield frames again")
	}
}

func TestPipelineSkipsEncodeFailures(t *testing.T) {
	source := &fakeSource{open: true, frames: []vision.Frame{testFrame(), testFrame()}}
	enc := &fakeEncoder{failures: 1}
	p := newTestPipeline(source, enc)

	data, ok := p.Next()
	if !ok {
		t.Fatal("encode failure on one frame must not end the stream")
	}
	if enc.calls != 2 {
		t.Errorf("encoder calls = %d, want 2 (one failure skipped)", enc.calls)
	}
	if len(data) == 0 {
		t.Error("expected the second frame's payload")
	}
}

func TestPipelineLazyUntilNext(t *testing.T) {
	source := &fakeSource{open: true, frames: []vision.Frame{testFrame()}}
	newTestPipeline(source, &fakeEncoder{})
	if source.pos != 0 {
		t.Error("constructing a pipeline must not read any frames")
	}
}
