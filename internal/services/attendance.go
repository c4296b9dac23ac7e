package services

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"attendance-go/internal/database"
	"attendance-go/internal/integrations/mqtt"
	"attendance-go/internal/server/sse"
	"attendance-go/internal/vision"
)

// AttendanceRecorder persists attendance records and fans the events out to
// SSE clients and the MQTT broker. The hub and MQTT client may be nil.
type AttendanceRecorder struct {
	repo *database.Repository
	hub  *sse.Hub
	mqtt *mqtt.Client
}

// NewAttendanceRecorder creates an attendance recorder.
func NewAttendanceRecorder(repo *database.Repository, hub *sse.Hub, mqttClient *mqtt.Client) *AttendanceRecorder {
	return &AttendanceRecorder{repo: repo, hub: hub, mqtt: mqttClient}
}

// Record stores one attendance event for the named student. Boxes may be nil
// when no geometry is available for the sighting.
func (r *AttendanceRecorder) Record(name string, confidence float64, source string, boxes []vision.Box) (*database.Attendance, error) {
	student, err := r.repo.FindStudentByName(name)
	if err != nil {
		return nil, err
	}

	record := &database.Attendance{
		StudentID:  student.ID,
		Confidence: confidence,
		Source:     source,
	}
	if len(boxes) > 0 {
		data, err := json.Marshal(boxes)
		if err != nil {
			return nil, fmt.Errorf("encoding box geometry: %w", err)
		}
		record.Boxes = datatypes.JSON(data)
	}

	if err := r.repo.RecordAttendance(record); err != nil {
		return nil, err
	}
	log.Infof("Recorded attendance for %q (confidence %.2f, source %s)", name, confidence, source)

	if r.hub != nil {
		r.hub.BroadcastAttendance(name, confidence, source)
	}
	if r.mqtt != nil {
		if err := r.mqtt.PublishAttendance(name, confidence, source); err != nil {
			log.Warnf("MQTT publish failed: %v", err)
		}
	}
	return record, nil
}
