package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Student is an enrolled person with a stored face image.
type Student struct {
	gorm.Model
	Name      string       `gorm:"uniqueIndex;not null" json:"name"`
	ImagePath string       `json:"image_path,omitempty"`
	Records   []Attendance `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE;" json:"-"`
}

// Attendance is one recorded sighting of a student.
type Attendance struct {
	gorm.Model
	StudentID  uint           `gorm:"index;not null" json:"student_id"`
	Timestamp  time.Time      `gorm:"index" json:"timestamp"`
	Confidence float64        `json:"confidence"`
	Source     string         `gorm:"index" json:"source"` // e.g. 'upload', 'live', 'session'
	Boxes      datatypes.JSON `gorm:"type:json;null" json:"boxes,omitempty"`
	Student    Student        `gorm:"foreignKey:StudentID" json:"-"`
}

// Statistics summarizes stored enrollment and attendance data.
type Statistics struct {
	TotalStudents    int64 `json:"total_students"`
	TotalAttendances int64 `json:"total_attendances"`
	AttendancesToday int64 `json:"attendances_today"`
}
