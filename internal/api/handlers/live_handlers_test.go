package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"attendance-go/config"
	"attendance-go/internal/core/face"
	"attendance-go/internal/core/processor"
	"attendance-go/internal/database"
	"attendance-go/internal/services"
	"attendance-go/internal/vision"
)

type fakeCamera struct {
	open  bool
	fail  bool
	reads int
}

func (c *fakeCamera) Open(deviceIndex int) bool {
	c.open = true
	return true
}

func (c *fakeCamera) Close() { c.open = false }

func (c *fakeCamera) IsOpen() bool { return c.open }

func (c *fakeCamera) ReadFrame() (vision.Frame, bool) {
	if !c.open || c.fail {
		return vision.Frame{}, false
	}
	c.reads++
	return vision.Frame{Width: 2, Height: 2, Channels: 3, Data: make([]byte, 12)}, true
}

// constantProvider reports the same single face in every frame.
type constantProvider struct {
	descriptor face.Descriptor
}

func (p *constantProvider) LocateFaces(vision.Frame) ([]vision.Box, error) {
	return []vision.Box{{Top: 1, Right: 10, Bottom: 10, Left: 1}}, nil
}

func (p *constantProvider) ExtractDescriptors(vision.Frame, []vision.Box) ([]face.Descriptor, error) {
	return []face.Descriptor{p.descriptor.Clone()}, nil
}

type stubAnnotator struct{}

func (stubAnnotator) Annotate(frame vision.Frame, _ []processor.Recognition) (vision.Frame, error) {
	return frame, nil
}

func (stubAnnotator) EncodeJPEG(vision.Frame) ([]byte, error) {
	return []byte{0xFF, 0xD8}, nil
}

type liveFixture struct {
	router *gin.Engine
	camera *fakeCamera
	repo   *database.Repository
}

func newLiveFixture(t *testing.T, provider vision.Provider, known ...string) *liveFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Init(config.DBConfig{File: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	repo := database.NewRepository(db)

	registry := face.NewRegistry()
	for _, name := range known {
		registry.Add(name, face.Descriptor{0, 0})
		if err := repo.CreateStudent(&database.Student{Name: name}); err != nil {
			t.Fatalf("seeding student %q: %v", name, err)
		}
	}
	matcher, _ := face.NewMatcher(face.DefaultTolerance)
	proc := processor.NewFrameProcessor(provider, registry, matcher, nil)

	cfg := &config.Config{}
	cfg.Server.UploadDir = t.TempDir()
	cfg.Camera.DeviceIndex = 0
	cfg.Camera.RegistrationAttempts = 5
	cfg.Recognition.MinMatchConfidence = 0.5
	cfg.Session.MinConfidence = 0.6
	cfg.Session.MinRecognitions = 3

	camera := &fakeCamera{}
	enrollment := services.NewEnrollmentService(provider, registry, "")
	recorder := services.NewAttendanceRecorder(repo, nil, nil)

	router := gin.New()
	NewLiveHandler(cfg, camera, proc, stubAnnotator{}, enrollment, recorder, repo).RegisterRoutes(router)
	return &liveFixture{router: router, camera: camera, repo: repo}
}

func (f *liveFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCameraLifecycleEndpoints(t *testing.T) {
	f := newLiveFixture(t, &constantProvider{descriptor: face.Descriptor{0, 0}})

	w := f.do(t, http.MethodGet, "/api/live/camera/status", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"open":false`)) {
		t.Errorf("initial status: code %d, body %s", w.Code, w.Body.String())
	}

	if w = f.do(t, http.MethodPost, "/api/live/camera/start", nil); w.Code != http.StatusOK {
		t.Fatalf("camera start: code %d", w.Code)
	}
	if !f.camera.IsOpen() {
		t.Fatal("camera should be open after start")
	}

	// Stopping twice must succeed both times.
	for i := 0; i < 2; i++ {
		if w = f.do(t, http.MethodPost, "/api/live/camera/stop", nil); w.Code != http.StatusOK {
			t.Errorf("camera stop #%d: code %d", i+1, w.Code)
		}
	}
	if f.camera.IsOpen() {
		t.Error("camera should be closed after stop")
	}
}

func TestFaceStatusRequiresOpenCamera(t *testing.T) {
	f := newLiveFixture(t, &constantProvider{descriptor: face.Descriptor{0, 0}}, "alice")

	if w := f.do(t, http.MethodGet, "/api/live/face/status", nil); w.Code != http.StatusConflict {
		t.Errorf("closed camera: code %d, want 409", w.Code)
	}

	f.do(t, http.MethodPost, "/api/live/camera/start", nil)
	w := f.do(t, http.MethodGet, "/api/live/face/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("face status: code %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"alice"`)) {
		t.Errorf("expected alice in face status, got %s", w.Body.String())
	}
}

func TestQuickAttendance(t *testing.T) {
	f := newLiveFixture(t, &constantProvider{descriptor: face.Descriptor{0.1, 0}}, "alice")
	f.do(t, http.MethodPost, "/api/live/camera/start", nil)

	w := f.do(t, http.MethodPost, "/api/live/attendance/quick", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quick attendance: code %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"student":"alice"`)) {
		t.Errorf("expected alice marked, got %s", w.Body.String())
	}

	records, err := f.repo.ListAttendance(nil, 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("attendance records = %v, err %v", records, err)
	}
	if records[0].Source != "live" {
		t.Errorf("source = %q, want live", records[0].Source)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newLiveFixture(t, &constantProvider{descriptor: face.Descriptor{0.1, 0}}, "alice")

	if w := f.do(t, http.MethodPost, "/api/live/sessions/class1/start", nil); w.Code != http.StatusConflict {
		t.Errorf("session start with closed camera: code %d, want 409", w.Code)
	}

	f.do(t, http.MethodPost, "/api/live/camera/start", nil)
	if w := f.do(t, http.MethodPost, "/api/live/sessions/class1/start", nil); w.Code != http.StatusOK {
		t.Fatalf("session start: code %d", w.Code)
	}

	if w := f.do(t, http.MethodGet, "/api/live/sessions/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: code %d, want 404", w.Code)
	}

	// Three polls accumulate three sightings at confidence 0.9.
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = f.do(t, http.MethodGet, "/api/live/sessions/class1", nil)
		if last.Code != http.StatusOK {
			t.Fatalf("session status poll %d: code %d", i+1, last.Code)
		}
	}
	if !bytes.Contains(last.Body.Bytes(), []byte(`"confirmed":["alice"]`)) {
		t.Errorf("expected alice confirmed after 3 sightings, got %s", last.Body.String())
	}
	if !bytes.Contains(last.Body.Bytes(), []byte(`"elapsed_seconds":`)) {
		t.Errorf("status must report how long the session has been running, got %s", last.Body.String())
	}

	w := f.do(t, http.MethodPost, "/api/live/sessions/class1/confirm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session confirm: code %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"student":"alice"`)) {
		t.Errorf("confirm should mark alice, got %s", w.Body.String())
	}

	records, _ := f.repo.ListAttendance(nil, 0)
	if len(records) != 1 || records[0].Source != "session" {
		t.Errorf("expected one session attendance record, got %+v", records)
	}

	// Confirm reset the session: nothing left to confirm.
	w = f.do(t, http.MethodPost, "/api/live/sessions/class1/confirm", nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"marked":[]`)) {
		t.Errorf("second confirm must mark nobody, got %s", w.Body.String())
	}

	if w = f.do(t, http.MethodPost, "/api/live/sessions/class1/stop", nil); w.Code != http.StatusOK {
		t.Errorf("session stop: code %d", w.Code)
	}
	if w = f.do(t, http.MethodGet, "/api/live/sessions/class1", nil); w.Code != http.StatusNotFound {
		t.Errorf("stopped session must be gone, code %d", w.Code)
	}
}

func TestRegisterLiveStudent(t *testing.T) {
	f := newLiveFixture(t, &constantProvider{descriptor: face.Descriptor{0.9, 0.9}})
	f.do(t, http.MethodPost, "/api/live/camera/start", nil)

	w := f.do(t, http.MethodPost, "/api/live/students", map[string]string{"name": "bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("live registration: code %d, body %s", w.Code, w.Body.String())
	}

	if _, err := f.repo.FindStudentByName("bob"); err != nil {
		t.Errorf("bob was not stored: %v", err)
	}

	// Registering the same name again conflicts.
	w = f.do(t, http.MethodPost, "/api/live/students", map[string]string{"name": "bob"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate live registration: code %d, want 409", w.Code)
	}
}
