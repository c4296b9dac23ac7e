package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"attendance-go/config"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Init(config.DBConfig{File: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	return NewRepository(db)
}

func TestCreateStudentAndDuplicate(t *testing.T) {
	repo := newTestRepo(t)

	student := &Student{Name: "Alice"}
	if err := repo.CreateStudent(student); err != nil {
		t.Fatalf("CreateStudent failed: %v", err)
	}
	if student.ID == 0 {
		t.Error("created student must get an ID")
	}

	err := repo.CreateStudent(&Student{Name: "Alice"})
	if !errors.Is(err, ErrStudentExists) {
		t.Errorf("duplicate name: expected ErrStudentExists, got %v", err)
	}
}

func TestFindStudent(t *testing.T) {
	repo := newTestRepo(t)
	created := &Student{Name: "Alice", ImagePath: "/data/uploads/alice.jpg"}
	repo.CreateStudent(created)

	byName, err := repo.FindStudentByName("Alice")
	if err != nil {
		t.Fatalf("FindStudentByName failed: %v", err)
	}
	if byName.ImagePath != created.ImagePath {
		t.Errorf("ImagePath = %q, want %q", byName.ImagePath, created.ImagePath)
	}

	byID, err := repo.FindStudentByID(created.ID)
	if err != nil {
		t.Fatalf("FindStudentByID failed: %v", err)
	}
	if byID.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", byID.Name)
	}

	if _, err := repo.FindStudentByName("Nobody"); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("missing student: expected ErrStudentNotFound, got %v", err)
	}
}

func TestListStudentsOrdered(t *testing.T) {
	repo := newTestRepo(t)
	repo.CreateStudent(&Student{Name: "Zoe"})
	repo.CreateStudent(&Student{Name: "Alice"})

	students, err := repo.ListStudents()
	if err != nil {
		t.Fatalf("ListStudents failed: %v", err)
	}
	if len(students) != 2 || students[0].Name != "Alice" || students[1].Name != "Zoe" {
		t.Errorf("expected name order Alice, Zoe; got %+v", students)
	}
}

func TestDeleteStudent(t *testing.T) {
	repo := newTestRepo(t)
	student := &Student{Name: "Alice"}
	repo.CreateStudent(student)

	if err := repo.DeleteStudent(student.ID); err != nil {
		t.Fatalf("DeleteStudent failed: %v", err)
	}
	if err := repo.DeleteStudent(student.ID); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("second delete: expected ErrStudentNotFound, got %v", err)
	}
}

func TestRecordAndListAttendance(t *testing.T) {
	repo := newTestRepo(t)
	student := &Student{Name: "Alice"}
	repo.CreateStudent(student)

	record := &Attendance{StudentID: student.ID, Confidence: 0.92, Source: "live"}
	if err := repo.RecordAttendance(record); err != nil {
		t.Fatalf("RecordAttendance failed: %v", err)
	}
	if record.Timestamp.IsZero() {
		t.Error("RecordAttendance must default the timestamp")
	}

	old := &Attendance{
		StudentID:  student.ID,
		Timestamp:  time.Now().AddDate(0, 0, -2),
		Confidence: 0.8,
		Source:     "upload",
	}
	repo.RecordAttendance(old)

	all, err := repo.ListAttendance(nil, 0)
	if err != nil {
		t.Fatalf("ListAttendance failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}
	if all[0].Timestamp.Before(all[1].Timestamp) {
		t.Error("records must come back newest first")
	}
	if all[0].Student.Name != "Alice" {
		t.Errorf("student not preloaded, got %+v", all[0].Student)
	}

	today := time.Now()
	todays, err := repo.ListAttendance(&today, 0)
	if err != nil {
		t.Fatalf("ListAttendance(today) failed: %v", err)
	}
	if len(todays) != 1 || todays[0].Source != "live" {
		t.Errorf("day filter returned %+v, want only today's record", todays)
	}

	limited, err := repo.ListAttendance(nil, 1)
	if err != nil {
		t.Fatalf("ListAttendance(limit) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d records", len(limited))
	}
}

func TestDeleteAttendanceBefore(t *testing.T) {
	repo := newTestRepo(t)
	student := &Student{Name: "Alice"}
	repo.CreateStudent(student)

	repo.RecordAttendance(&Attendance{StudentID: student.ID, Timestamp: time.Now().AddDate(0, 0, -40)})
	repo.RecordAttendance(&Attendance{StudentID: student.ID})

	deleted, err := repo.DeleteAttendanceBefore(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("DeleteAttendanceBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	remaining, _ := repo.ListAttendance(nil, 0)
	if len(remaining) != 1 {
		t.Errorf("%d records remain, want 1", len(remaining))
	}
}

func TestGetStatistics(t *testing.T) {
	repo := newTestRepo(t)
	student := &Student{Name: "Alice"}
	repo.CreateStudent(student)
	repo.RecordAttendance(&Attendance{StudentID: student.ID})
	repo.RecordAttendance(&Attendance{StudentID: student.ID, Timestamp: time.Now().AddDate(0, 0, -1)})

	stats, err := repo.GetStatistics()
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.TotalStudents != 1 || stats.TotalAttendances != 2 || stats.AttendancesToday != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
