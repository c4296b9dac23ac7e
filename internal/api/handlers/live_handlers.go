package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"attendance-go/config"
	"attendance-go/internal/core/processor"
	"attendance-go/internal/core/session"
	"attendance-go/internal/core/stream"
	"attendance-go/internal/database"
	"attendance-go/internal/services"
	"attendance-go/internal/vision"
)

// LiveHandler serves the camera, MJPEG stream and live session endpoints.
type LiveHandler struct {
	cfg        *config.Config
	camera     vision.Camera
	proc       *processor.FrameProcessor
	annotator  processor.Annotator
	enrollment *services.EnrollmentService
	recorder   *services.AttendanceRecorder
	repo       *database.Repository

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewLiveHandler creates a live handler over the given camera.
func NewLiveHandler(cfg *config.Config, camera vision.Camera, proc *processor.FrameProcessor,
	annotator processor.Annotator, enrollment *services.EnrollmentService,
	recorder *services.AttendanceRecorder, repo *database.Repository) *LiveHandler {
	return &LiveHandler{
		cfg:        cfg,
		camera:     camera,
		proc:       proc,
		annotator:  annotator,
		enrollment: enrollment,
		recorder:   recorder,
		repo:       repo,
		sessions:   make(map[string]*session.Session),
	}
}

// RegisterRoutes registers the live routes on the router.
func (h *LiveHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/live/video/stream", h.VideoStream)

	live := router.Group("/api/live")
	{
		live.POST("/camera/start", h.CameraStart)
		live.POST("/camera/stop", h.CameraStop)
		live.GET("/camera/status", h.CameraStatus)
		live.GET("/face/status", h.FaceStatus)
		live.GET("/frame", h.SingleFrame)
		live.POST("/students", h.RegisterLiveStudent)
		live.POST("/attendance/quick", h.QuickAttendance)

		live.POST("/sessions/:id/start", h.SessionStart)
		live.GET("/sessions/:id", h.SessionStatus)
		live.POST("/sessions/:id/confirm", h.SessionConfirm)
		live.POST("/sessions/:id/stop", h.SessionStop)
	}
}

// CameraStart opens the configured capture device.
func (h *LiveHandler) CameraStart(c *gin.Context) {
	if h.camera.Open(h.cfg.Camera.DeviceIndex) {
		c.JSON(http.StatusOK, gin.H{"open": true})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open camera", "open": false})
}

// CameraStop releases the capture device. Stopping a stopped camera succeeds.
func (h *LiveHandler) CameraStop(c *gin.Context) {
	h.camera.Close()
	c.JSON(http.StatusOK, gin.H{"open": false})
}

// CameraStatus reports whether the camera is open.
func (h *LiveHandler) CameraStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"open": h.camera.IsOpen()})
}

// FaceStatus reads one frame and reports the faces recognized in it.
func (h *LiveHandler) FaceStatus(c *gin.Context) {
	if !h.camera.IsOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Camera is not open"})
		return
	}
	frame, ok := h.camera.ReadFrame()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera read failed"})
		return
	}
	result := h.proc.Process(frame, false)
	c.JSON(http.StatusOK, gin.H{
		"faces": result.Recognitions,
		"count": len(result.Recognitions),
	})
}

// VideoStream serves the annotated camera feed as an MJPEG multipart stream.
// The stream ends when the camera closes, a read fails or the client leaves.
func (h *LiveHandler) VideoStream(c *gin.Context) {
	if !h.camera.IsOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Camera is not open"})
		return
	}

	pipeline := stream.NewPipeline(h.camera, h.proc, h.annotator)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("Video stream client disconnected")
			return
		default:
		}

		data, ok := pipeline.Next()
		if !ok {
			log.Debug("Video stream ended")
			return
		}

		if _, err := fmt.Fprintf(c.Writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
			return
		}
		if _, err := c.Writer.Write(data); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// SingleFrame returns one annotated frame as base64 JPEG together with its
// recognitions.
func (h *LiveHandler) SingleFrame(c *gin.Context) {
	if !h.camera.IsOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Camera is not open"})
		return
	}
	frame, ok := h.camera.ReadFrame()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera read failed"})
		return
	}

	result := h.proc.Process(frame, true)
	data, err := h.annotator.EncodeJPEG(result.Annotated)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Frame encoding failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image":        base64.StdEncoding.EncodeToString(data),
		"content_type": "image/jpeg",
		"faces":        result.Recognitions,
	})
}

type liveRegisterRequest struct {
	Name string `json:"name" binding:"required"`
}

// RegisterLiveStudent enrolls a new student from the live camera: it captures
// frames until one contains exactly one face, then registers it.
func (h *LiveHandler) RegisterLiveStudent(c *gin.Context) {
	var req liveRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if !h.camera.IsOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Camera is not open"})
		return
	}
	if _, err := h.repo.FindStudentByName(req.Name); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Student %q already exists", req.Name)})
		return
	} else if !errors.Is(err, database.ErrStudentNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database lookup failed"})
		return
	}

	frame, err := h.enrollment.CaptureForEnrollment(h.camera, h.cfg.Camera.RegistrationAttempts)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	imagePath, err := h.saveCapture(req.Name, frame)
	if err != nil {
		log.Warnf("Could not save capture image for %q: %v", req.Name, err)
	}

	if err := h.enrollment.EnrollFrame(req.Name, frame); err != nil {
		if imagePath != "" {
			os.Remove(imagePath)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	student := &database.Student{Name: req.Name, ImagePath: imagePath}
	if err := h.repo.CreateStudent(student); err != nil {
		if imagePath != "" {
			os.Remove(imagePath)
		}
		if errors.Is(err, database.ErrStudentExists) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Student %q already exists", req.Name)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store student"})
		return
	}

	c.JSON(http.StatusCreated, student)
}

// QuickAttendance reads one frame and records attendance for every student
// recognized in it above the match confidence floor.
func (h *LiveHandler) QuickAttendance(c *gin.Context) {
	if !h.camera.IsOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Camera is not open"})
		return
	}
	frame, ok := h.camera.ReadFrame()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera read failed"})
		return
	}

	result := h.proc.Process(frame, false)
	marked := make([]gin.H, 0)
	for _, r := range result.Recognitions {
		if !r.Known || r.Confidence < h.cfg.Recognition.MinMatchConfidence {
			continue
		}
		record, err := h.recorder.Record(r.Name, r.Confidence, "live", []vision.Box{r.Box})
		if err != nil {
			log.Warnf("Quick attendance for %q failed: %v", r.Name, err)
			continue
		}
		marked = append(marked, gin.H{
			"student":    r.Name,
			"confidence": r.Confidence,
			"record_id":  record.ID,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"marked":      marked,
		"faces_found": len(result.Recognitions),
	})
}

// SessionStart creates a live recognition session with the given ID. Starting
// an existing session resets it.
func (h *LiveHandler) SessionStart(c *gin.Context) {
	if !h.camera.IsOpen() {
		c.JSON(http.StatusConflict, gin.H{"error": "Camera is not open"})
		return
	}
	id := c.Param("id")

	h.mu.Lock()
	sess, exists := h.sessions[id]
	if exists {
		sess.Reset()
	} else {
		sess = session.NewSession(h.camera, h.proc, h.cfg.Session.MinConfidence)
		h.sessions[id] = sess
	}
	h.mu.Unlock()

	log.Infof("Live session %q started", id)
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"started_at": sess.StartedAt(),
		"reset":      exists,
	})
}

// SessionStatus processes one frame into the session and returns the updated
// identity state. Polling this endpoint drives the session forward.
func (h *LiveHandler) SessionStatus(c *gin.Context) {
	sess, ok := h.session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	identities := sess.ProcessFrame()
	confirmed := sess.Confirmed(h.cfg.Session.MinRecognitions)
	confirmedNames := make([]string, 0, len(confirmed))
	for _, st := range confirmed {
		confirmedNames = append(confirmedNames, st.Name)
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":      c.Param("id"),
		"started_at":      sess.StartedAt(),
		"elapsed_seconds": time.Since(sess.StartedAt()).Seconds(),
		"identities":      identities,
		"confirmed":       confirmedNames,
	})
}

// SessionConfirm records attendance for every identity seen often enough,
// then resets the session.
func (h *LiveHandler) SessionConfirm(c *gin.Context) {
	id := c.Param("id")
	sess, ok := h.session(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	confirmed := sess.Confirmed(h.cfg.Session.MinRecognitions)
	marked := make([]gin.H, 0, len(confirmed))
	for _, st := range confirmed {
		record, err := h.recorder.Record(st.Name, st.Confidence, "session", nil)
		if err != nil {
			log.Warnf("Session %q: attendance for %q failed: %v", id, st.Name, err)
			continue
		}
		marked = append(marked, gin.H{
			"student":    st.Name,
			"confidence": st.Confidence,
			"sightings":  st.Count,
			"record_id":  record.ID,
		})
	}

	sess.Reset()
	log.Infof("Live session %q confirmed %d students", id, len(marked))
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"marked":     marked,
	})
}

// SessionStop discards a session. Stopping an unknown session succeeds.
func (h *LiveHandler) SessionStop(c *gin.Context) {
	id := c.Param("id")
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	log.Infof("Live session %q stopped", id)
	c.JSON(http.StatusOK, gin.H{"session_id": id, "stopped": true})
}

func (h *LiveHandler) session(id string) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[id]
	return sess, ok
}

func (h *LiveHandler) saveCapture(name string, frame vision.Frame) (string, error) {
	data, err := h.annotator.EncodeJPEG(frame)
	if err != nil {
		return "", err
	}
	target := filepath.Join(h.cfg.Server.UploadDir, name,
		fmt.Sprintf("live_%s.jpg", time.Now().Format("20060102_150405")))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", err
	}
	return target, nil
}
