package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"attendance-go/config"
	"attendance-go/internal/api/handlers"
	"attendance-go/internal/core/face"
	"attendance-go/internal/core/processor"
	"attendance-go/internal/database"
	"attendance-go/internal/integrations/dlib"
	"attendance-go/internal/integrations/mqtt"
	"attendance-go/internal/integrations/opencv"
	"attendance-go/internal/logger"
	"attendance-go/internal/server/sse"
	"attendance-go/internal/services"
	"attendance-go/internal/services/cleanup"
	"attendance-go/internal/utils"
)

func main() {
	configPath := flag.String("config", "/config/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	log.Info("Initializing database...")
	db, err := database.Init(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	repo := database.NewRepository(db)

	// Recognition core
	provider, err := dlib.NewProvider(cfg.Recognition.ModelDir)
	if err != nil {
		log.Fatalf("Failed to load recognition models: %v", err)
	}
	defer provider.Close()

	registry := face.NewRegistry()
	matcher, err := face.NewMatcher(cfg.Recognition.Tolerance)
	if err != nil {
		log.Fatalf("Invalid matcher tolerance: %v", err)
	}
	annotator := opencv.NewAnnotator()
	proc := processor.NewFrameProcessor(provider, registry, matcher, annotator)

	enrollment := services.NewEnrollmentService(provider, registry, cfg.Recognition.EncodingsFile)
	if err := enrollment.RestoreRegistry(); err != nil {
		log.Warnf("Could not restore descriptor snapshot: %v", err)
	}

	// Event fan-out
	hub := sse.NewHub()
	go hub.Run()

	mqttClient := mqtt.NewClient(cfg.MQTT)
	if err := mqttClient.Start(); err != nil {
		log.Warnf("MQTT startup failed, continuing without broker: %v", err)
	}
	defer mqttClient.Stop()

	recorder := services.NewAttendanceRecorder(repo, hub, mqttClient)

	// Background cleanup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go cleanup.NewCleanupService(repo, cfg.Cleanup, cfg.Server.UploadDir).Start(ctx)

	// Camera is owned here and released on shutdown; handlers open and close
	// it on demand.
	camera := opencv.NewCamera(cfg.Camera)
	defer camera.Close()

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	apiHandler := handlers.NewAPIHandler(cfg, repo, registry, enrollment, recorder,
		proc, hub, utils.NewStatsCollector(), opencv.LoadFrame)
	apiHandler.RegisterRoutes(router)

	liveHandler := handlers.NewLiveHandler(cfg, camera, proc, annotator, enrollment, recorder, repo)
	liveHandler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting attendance server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	camera.Close()
	log.Info("Shutdown complete")
}
