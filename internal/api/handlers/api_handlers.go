// Package handlers contains the gin HTTP handlers for the attendance API and
// the live camera endpoints.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"attendance-go/config"
	"attendance-go/internal/core/face"
	"attendance-go/internal/core/processor"
	"attendance-go/internal/database"
	"attendance-go/internal/server/sse"
	"attendance-go/internal/services"
	"attendance-go/internal/utils"
	"attendance-go/internal/vision"
)

// FrameLoader reads an image file from disk into a frame. Injected so the
// handlers can be tested without OpenCV.
type FrameLoader func(path string) (vision.Frame, error)

// APIHandler serves the student, attendance and system endpoints.
type APIHandler struct {
	cfg        *config.Config
	repo       *database.Repository
	registry   *face.Registry
	enrollment *services.EnrollmentService
	recorder   *services.AttendanceRecorder
	proc       *processor.FrameProcessor
	hub        *sse.Hub
	stats      *utils.StatsCollector
	loadFrame  FrameLoader
}

// NewAPIHandler creates an API handler with all its collaborators.
func NewAPIHandler(cfg *config.Config, repo *database.Repository, registry *face.Registry,
	enrollment *services.EnrollmentService, recorder *services.AttendanceRecorder,
	proc *processor.FrameProcessor, hub *sse.Hub, stats *utils.StatsCollector,
	loadFrame FrameLoader) *APIHandler {
	return &APIHandler{
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		enrollment: enrollment,
		recorder:   recorder,
		proc:       proc,
		hub:        hub,
		stats:      stats,
		loadFrame:  loadFrame,
	}
}

// RegisterRoutes registers the API routes on the router.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/api/events", h.Events)

	api := router.Group("/api")
	{
		api.POST("/students", h.CreateStudent)
		api.GET("/students", h.ListStudents)
		api.DELETE("/students/:id", h.DeleteStudent)

		api.POST("/attendance", h.CreateAttendance)
		api.GET("/attendance", h.ListAttendance)
		api.POST("/attendance/recognize", h.RecognizeAttendance)

		api.GET("/system/status", h.SystemStatus)
	}
}

// Health answers liveness probes.
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateStudent registers a new student from a multipart form with a name and
// a face image. The image must contain exactly one face.
func (h *APIHandler) CreateStudent(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name must not be empty"})
		return
	}
	if len(name) > face.MaxNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Name must be at most %d characters", face.MaxNameLength)})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded or invalid form data"})
		return
	}
	defer file.Close()

	if err := h.validateUpload(header.Filename, header.Size); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject the duplicate before any file or registry work happens.
	if _, err := h.repo.FindStudentByName(name); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Student %q already exists", name)})
		return
	} else if !errors.Is(err, database.ErrStudentNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database lookup failed"})
		return
	}

	imagePath, err := h.saveUpload(name, header.Filename, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to save file: %v", err)})
		return
	}

	frame, err := h.loadFrame(imagePath)
	if err != nil {
		os.Remove(imagePath)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is not a readable image"})
		return
	}

	if err := h.enrollment.EnrollFrame(name, frame); err != nil {
		os.Remove(imagePath)
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrNoFace) || errors.Is(err, services.ErrMultipleFaces) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	student := &database.Student{Name: name, ImagePath: imagePath}
	if err := h.repo.CreateStudent(student); err != nil {
		os.Remove(imagePath)
		if errors.Is(err, database.ErrStudentExists) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Student %q already exists", name)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store student"})
		return
	}

	c.JSON(http.StatusCreated, student)
}

// ListStudents returns all enrolled students.
func (h *APIHandler) ListStudents(c *gin.Context) {
	students, err := h.repo.ListStudents()
	if err != nil {
		log.Errorf("Listing students failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list students"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// DeleteStudent removes a student, their attendance records and their
// registered face descriptors, so the camera stops recognizing them.
func (h *APIHandler) DeleteStudent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid student ID"})
		return
	}
	student, err := h.repo.FindStudentByID(uint(id))
	if err != nil {
		if errors.Is(err, database.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete student"})
		return
	}
	if err := h.repo.DeleteStudent(student.ID); err != nil {
		if errors.Is(err, database.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete student"})
		return
	}
	if err := h.enrollment.RemoveName(student.Name); err != nil {
		// The row is already gone; the registry is pruned in memory even if
		// the snapshot write failed, so report success but log it.
		log.Warnf("Failed to persist descriptor removal for %q: %v", student.Name, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Student deleted"})
}

type createAttendanceRequest struct {
	StudentID uint `json:"student_id" binding:"required"`
}

// CreateAttendance records a manual attendance entry for a student.
func (h *APIHandler) CreateAttendance(c *gin.Context) {
	var req createAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
		return
	}
	student, err := h.repo.FindStudentByID(req.StudentID)
	if err != nil {
		if errors.Is(err, database.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database lookup failed"})
		return
	}
	record, err := h.recorder.Record(student.Name, 1.0, "manual", nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record attendance"})
		return
	}
	c.JSON(http.StatusCreated, record)
}

// ListAttendance returns attendance records, optionally filtered by date
// (YYYY-MM-DD) and limited in count.
func (h *APIHandler) ListAttendance(c *gin.Context) {
	var day *time.Time
	if dateStr := c.Query("date"); dateStr != "" {
		parsed, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = &parsed
	}
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	records, err := h.repo.ListAttendance(day, limit)
	if err != nil {
		log.Errorf("Listing attendance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list attendance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records, "count": len(records)})
}

// RecognizeAttendance takes an uploaded photo, recognizes the best matching
// student and records their attendance.
func (h *APIHandler) RecognizeAttendance(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded or invalid form data"})
		return
	}
	defer file.Close()

	if err := h.validateUpload(header.Filename, header.Size); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tmpPath, err := h.saveUpload("recognize", header.Filename, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to save file: %v", err)})
		return
	}
	defer os.Remove(tmpPath)

	frame, err := h.loadFrame(tmpPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is not a readable image"})
		return
	}

	result := h.proc.Process(frame, false)
	best, ok := bestRecognition(result.Recognitions, h.cfg.Recognition.MinMatchConfidence)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"recognized":  false,
			"faces_found": len(result.Recognitions),
		})
		return
	}

	record, err := h.recorder.Record(best.Name, best.Confidence, "upload", []vision.Box{best.Box})
	if err != nil {
		if errors.Is(err, database.ErrStudentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Recognized %q but no such student is stored", best.Name)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record attendance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recognized": true,
		"student":    best.Name,
		"confidence": best.Confidence,
		"attendance": record,
	})
}

// SystemStatus reports runtime, registry and database statistics.
func (h *APIHandler) SystemStatus(c *gin.Context) {
	dbStats, err := h.repo.GetStatistics()
	if err != nil {
		log.Errorf("Reading database statistics failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"system":           h.stats.Collect(),
		"database":         dbStats,
		"known_faces":      h.registry.Len(),
		"memory_formatted": utils.FormatBytes(h.stats.Collect().MemoryAlloc),
	})
}

// Events streams attendance events to the client via SSE.
func (h *APIHandler) Events(c *gin.Context) {
	client := make(sse.Client, 10)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(message))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *APIHandler) validateUpload(filename string, size int64) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	allowed := false
	for _, e := range h.cfg.Recognition.AllowedExtensions {
		// Config entries may be written with or without the leading dot.
		if ext == strings.TrimPrefix(strings.ToLower(e), ".") {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("file extension %q is not allowed", ext)
	}
	maxBytes := int64(h.cfg.Recognition.MaxUploadSizeMB) * 1024 * 1024
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("file exceeds the maximum size of %d MB", h.cfg.Recognition.MaxUploadSizeMB)
	}
	return nil
}

func (h *APIHandler) saveUpload(subdir, filename string, src io.Reader) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	target := filepath.Join(h.cfg.Server.UploadDir, subdir, fmt.Sprintf("%s_%s", timestamp, filepath.Base(filename)))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		os.Remove(target)
		return "", err
	}
	return target, nil
}

// bestRecognition picks the known recognition with the highest confidence at
// or above the floor.
func bestRecognition(recognitions []processor.Recognition, minConfidence float64) (processor.Recognition, bool) {
	var best processor.Recognition
	found := false
	for _, r := range recognitions {
		if !r.Known || r.Confidence < minConfidence {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
	}
	return best, found
}
