// Package services contains the application services layered between the
// HTTP handlers and the core recognition primitives.
package services

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"attendance-go/internal/core/face"
	"attendance-go/internal/vision"
)

// ErrNoFace is returned when an enrollment image contains no detectable face.
var ErrNoFace = errors.New("no face detected in image")

// ErrMultipleFaces is returned when an enrollment image contains more than
// one face. Enrollment needs exactly one.
var ErrMultipleFaces = errors.New("multiple faces detected in image")

// EnrollmentService registers new people: it extracts a descriptor from an
// image or camera capture, adds it to the registry and persists the registry
// snapshot.
type EnrollmentService struct {
	provider      vision.Provider
	registry      *face.Registry
	encodingsFile string
}

// NewEnrollmentService creates an enrollment service. If encodingsFile is
// non-empty, every successful enrollment writes a fresh snapshot there.
func NewEnrollmentService(provider vision.Provider, registry *face.Registry, encodingsFile string) *EnrollmentService {
	return &EnrollmentService{
		provider:      provider,
		registry:      registry,
		encodingsFile: encodingsFile,
	}
}

// EnrollFrame extracts the single face in the frame and registers it under
// the given name. Frames with zero or multiple faces are rejected.
func (s *EnrollmentService) EnrollFrame(name string, frame vision.Frame) error {
	descriptor, err := s.extractSingle(frame)
	if err != nil {
		return err
	}
	if err := s.registry.Add(name, descriptor); err != nil {
		return fmt.Errorf("registering descriptor for %q: %w", name, err)
	}
	log.Infof("Enrolled %q (%d descriptors total)", name, s.registry.Len())
	return s.persist()
}

// CaptureForEnrollment reads frames from the source until one contains
// exactly one face, up to maxAttempts reads. Frames with no face or several
// faces are skipped; the last skip reason is reported when attempts run out.
func (s *EnrollmentService) CaptureForEnrollment(source vision.Source, maxAttempts int) (vision.Frame, error) {
	lastErr := ErrNoFace
	for attempt := 0; attempt < maxAttempts; attempt++ {
		frame, ok := source.ReadFrame()
		if !ok {
			return vision.Frame{}, fmt.Errorf("camera read failed during capture")
		}
		boxes, err := s.provider.LocateFaces(frame)
		if err != nil {
			log.Debugf("Capture attempt %d: face location failed: %v", attempt+1, err)
			continue
		}
		switch len(boxes) {
		case 1:
			return frame, nil
		case 0:
			lastErr = ErrNoFace
		default:
			lastErr = ErrMultipleFaces
		}
	}
	return vision.Frame{}, fmt.Errorf("no usable capture after %d attempts: %w", maxAttempts, lastErr)
}

// RemoveName drops every registered descriptor for the given name and writes
// a fresh snapshot so the person is not recognized again after a restart.
// Removing an unknown name is a no-op.
func (s *EnrollmentService) RemoveName(name string) error {
	if s.registry.Remove(name) == 0 {
		return nil
	}
	log.Infof("Removed descriptors for %q (%d left)", name, s.registry.Len())
	return s.persist()
}

// RestoreRegistry loads a previously saved snapshot into the registry. A
// missing snapshot file leaves the registry empty without error.
func (s *EnrollmentService) RestoreRegistry() error {
	if s.encodingsFile == "" {
		return nil
	}
	if err := s.registry.LoadFile(s.encodingsFile); err != nil {
		return fmt.Errorf("restoring descriptor snapshot: %w", err)
	}
	if n := s.registry.Len(); n > 0 {
		log.Infof("Restored %d descriptors from %s", n, s.encodingsFile)
	}
	return nil
}

func (s *EnrollmentService) extractSingle(frame vision.Frame) (face.Descriptor, error) {
	boxes, err := s.provider.LocateFaces(frame)
	if err != nil {
		return nil, fmt.Errorf("locating faces: %w", err)
	}
	if len(boxes) == 0 {
		return nil, ErrNoFace
	}
	if len(boxes) > 1 {
		return nil, ErrMultipleFaces
	}
	descriptors, err := s.provider.ExtractDescriptors(frame, boxes)
	if err != nil {
		return nil, fmt.Errorf("extracting descriptor: %w", err)
	}
	if len(descriptors) == 0 {
		return nil, ErrNoFace
	}
	return descriptors[0], nil
}

func (s *EnrollmentService) persist() error {
	if s.encodingsFile == "" {
		return nil
	}
	if err := s.registry.SaveFile(s.encodingsFile); err != nil {
		return fmt.Errorf("saving descriptor snapshot: %w", err)
	}
	return nil
}
