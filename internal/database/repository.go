package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrStudentExists is returned when enrolling a name that is already taken.
var ErrStudentExists = errors.New("student already exists")

// ErrStudentNotFound is returned when a lookup matches no student.
var ErrStudentNotFound = errors.New("student not found")

// Repository bundles the database operations used by the handlers and
// services.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository over an initialized database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateStudent inserts a new student. Duplicate names map to
// ErrStudentExists so callers can answer with a conflict status.
func (r *Repository) CreateStudent(student *Student) error {
	var count int64
	if err := r.db.Model(&Student{}).Where("name = ?", student.Name).Count(&count).Error; err != nil {
		return fmt.Errorf("checking for existing student: %w", err)
	}
	if count > 0 {
		return ErrStudentExists
	}
	if err := r.db.Create(student).Error; err != nil {
		return fmt.Errorf("creating student: %w", err)
	}
	return nil
}

// FindStudentByName looks a student up by exact name.
func (r *Repository) FindStudentByName(name string) (*Student, error) {
	var student Student
	err := r.db.Where("name = ?", name).First(&student).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up student %q: %w", name, err)
	}
	return &student, nil
}

// FindStudentByID looks a student up by primary key.
func (r *Repository) FindStudentByID(id uint) (*Student, error) {
	var student Student
	err := r.db.First(&student, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up student %d: %w", id, err)
	}
	return &student, nil
}

// ListStudents returns all students ordered by name.
func (r *Repository) ListStudents() ([]Student, error) {
	var students []Student
	if err := r.db.Order("name asc").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	return students, nil
}

// DeleteStudent removes a student and, through the foreign key constraint,
// their attendance records.
func (r *Repository) DeleteStudent(id uint) error {
	result := r.db.Unscoped().Delete(&Student{}, id)
	if result.Error != nil {
		return fmt.Errorf("deleting student %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// RecordAttendance inserts one attendance record.
func (r *Repository) RecordAttendance(record *Attendance) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("recording attendance: %w", err)
	}
	return nil
}

// ListAttendance returns attendance records, newest first, optionally
// filtered to a single day.
func (r *Repository) ListAttendance(day *time.Time, limit int) ([]Attendance, error) {
	query := r.db.Preload("Student").Order("timestamp desc")
	if day != nil {
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		query = query.Where("timestamp >= ? AND timestamp < ?", start, start.Add(24*time.Hour))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []Attendance
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing attendance: %w", err)
	}
	return records, nil
}

// DeleteAttendanceBefore removes attendance records older than the cutoff and
// returns how many were deleted.
func (r *Repository) DeleteAttendanceBefore(cutoff time.Time) (int64, error) {
	result := r.db.Unscoped().Where("timestamp < ?", cutoff).Delete(&Attendance{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old attendance records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetStatistics computes summary counters for the system status endpoint.
func (r *Repository) GetStatistics() (Statistics, error) {
	var stats Statistics
	if err := r.db.Model(&Student{}).Count(&stats.TotalStudents).Error; err != nil {
		return stats, fmt.Errorf("counting students: %w", err)
	}
	if err := r.db.Model(&Attendance{}).Count(&stats.TotalAttendances).Error; err != nil {
		return stats, fmt.Errorf("counting attendance records: %w", err)
	}
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := r.db.Model(&Attendance{}).Where("timestamp >= ?", start).Count(&stats.AttendancesToday).Error; err != nil {
		return stats, fmt.Errorf("counting today's attendance: %w", err)
	}
	return stats, nil
}
