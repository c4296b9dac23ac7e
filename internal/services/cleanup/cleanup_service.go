// Package cleanup removes attendance records past the configured retention
// period.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"attendance-go/config"
	"attendance-go/internal/database"
)

// CleanupService periodically deletes attendance records older than the
// retention window, along with upload images no student references anymore.
type CleanupService struct {
	repo          *database.Repository
	config        config.CleanupConfig
	uploadDir     string
	checkInterval time.Duration
}

// NewCleanupService creates a cleanup service that checks once a day.
func NewCleanupService(repo *database.Repository, cfg config.CleanupConfig, uploadDir string) *CleanupService {
	return &CleanupService{
		repo:          repo,
		config:        cfg,
		uploadDir:     uploadDir,
		checkInterval: 24 * time.Hour,
	}
}

// Start runs the cleanup loop until the context is cancelled. It performs an
// initial cleanup immediately.
func (s *CleanupService) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	if err := s.RunCleanup(); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if err := s.RunCleanup(); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup deletes attendance records older than the retention period.
// A retention of zero or less disables cleanup.
func (s *CleanupService) RunCleanup() error {
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	log.Infof("Cleaning up attendance records older than %s", cutoff.Format("2006-01-02"))

	deleted, err := s.repo.DeleteAttendanceBefore(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Infof("Cleanup removed %d attendance records", deleted)
	}

	if s.uploadDir != "" {
		if err := s.cleanupOrphanedImages(cutoff); err != nil {
			log.Warnf("Upload image cleanup failed: %v", err)
		}
	}
	return nil
}

// cleanupOrphanedImages removes upload files older than the cutoff that no
// student record references.
func (s *CleanupService) cleanupOrphanedImages(cutoff time.Time) error {
	students, err := s.repo.ListStudents()
	if err != nil {
		return err
	}
	referenced := make(map[string]bool, len(students))
	for _, student := range students {
		if student.ImagePath != "" {
			referenced[filepath.Clean(student.ImagePath)] = true
		}
	}

	var removed int
	err = filepath.Walk(s.uploadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if referenced[filepath.Clean(path)] || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Warnf("Could not remove orphaned image %s: %v", path, err)
			return nil
		}
		removed++
		return nil
	})
	if removed > 0 {
		log.Infof("Cleanup removed %d orphaned upload images", removed)
	}
	return err
}
