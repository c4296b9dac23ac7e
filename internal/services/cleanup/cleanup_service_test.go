package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"attendance-go/config"
	"attendance-go/internal/database"
)

func newTestRepo(t *testing.T) *database.Repository {
	t.Helper()
	db, err := database.Init(config.DBConfig{File: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	return database.NewRepository(db)
}

func TestRunCleanupRemovesOldRecords(t *testing.T) {
	repo := newTestRepo(t)
	student := &database.Student{Name: "alice"}
	repo.CreateStudent(student)
	repo.RecordAttendance(&database.Attendance{StudentID: student.ID, Timestamp: time.Now().AddDate(0, 0, -40)})
	repo.RecordAttendance(&database.Attendance{StudentID: student.ID})

	s := NewCleanupService(repo, config.CleanupConfig{RetentionDays: 30}, "")
	if err := s.RunCleanup(); err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}

	records, _ := repo.ListAttendance(nil, 0)
	if len(records) != 1 {
		t.Errorf("%d records remain, want 1", len(records))
	}
}

func TestRunCleanupDisabled(t *testing.T) {
	repo := newTestRepo(t)
	student := &database.Student{Name: "alice"}
	repo.CreateStudent(student)
	repo.RecordAttendance(&database.Attendance{StudentID: student.ID, Timestamp: time.Now().AddDate(0, 0, -40)})

	s := NewCleanupService(repo, config.CleanupConfig{RetentionDays: 0}, "")
	if err := s.RunCleanup(); err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}

	records, _ := repo.ListAttendance(nil, 0)
	if len(records) != 1 {
		t.Errorf("disabled cleanup must not delete, %d records remain", len(records))
	}
}

func TestRunCleanupRemovesOrphanedImages(t *testing.T) {
	repo := newTestRepo(t)
	uploadDir := t.TempDir()

	keptPath := filepath.Join(uploadDir, "alice", "old.jpg")
	orphanPath := filepath.Join(uploadDir, "gone", "old.jpg")
	freshPath := filepath.Join(uploadDir, "gone", "new.jpg")
	for _, p := range []string{keptPath, orphanPath, freshPath} {
		os.MkdirAll(filepath.Dir(p), 0755)
		if err := os.WriteFile(p, []byte("img"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().AddDate(0, 0, -40)
	for _, p := range []string{keptPath, orphanPath} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}

	// keptPath is still referenced by a student record.
	repo.CreateStudent(&database.Student{Name: "alice", ImagePath: keptPath})

	s := NewCleanupService(repo, config.CleanupConfig{RetentionDays: 30}, uploadDir)
	if err := s.RunCleanup(); err != nil {
		t.Fatalf("RunCleanup failed: %v", err)
	}

	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Error("old orphaned image should be removed")
	}
	if _, err := os.Stat(keptPath); err != nil {
		t.Error("referenced image must survive cleanup")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Error("recent image must survive cleanup")
	}
}
