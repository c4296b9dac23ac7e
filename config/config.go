package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Session     SessionConfig     `mapstructure:"session"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	DataDir        string   `mapstructure:"data_dir"`
	UploadDir      string   `mapstructure:"upload_dir"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings (SQLite file path).
type DBConfig struct {
	File string `mapstructure:"file"`
}

// CameraConfig holds settings for the shared video device.
type CameraConfig struct {
	DeviceIndex          int `mapstructure:"device_index"`
	FrameWidth           int `mapstructure:"frame_width"`
	FrameHeight          int `mapstructure:"frame_height"`
	FPS                  int `mapstructure:"fps"`
	RegistrationAttempts int `mapstructure:"registration_attempts"`
}

// RecognitionConfig holds settings for face matching and enrollment.
type RecognitionConfig struct {
	// ModelDir contains the dlib model files used by the vision layer.
	ModelDir string `mapstructure:"model_dir"`
	// Tolerance is the maximum descriptor distance for a match. Lower is stricter.
	Tolerance float64 `mapstructure:"tolerance"`
	// EncodingsFile is the registry snapshot written after each enrollment.
	EncodingsFile string `mapstructure:"encodings_file"`
	// MinMatchConfidence gates one-shot attendance marking (upload and quick capture).
	MinMatchConfidence float64  `mapstructure:"min_match_confidence"`
	MaxUploadSizeMB    int      `mapstructure:"max_upload_size_mb"`
	AllowedExtensions  []string `mapstructure:"allowed_extensions"`
}

// SessionConfig holds settings for live recognition sessions.
// MinConfidence is a per-frame acceptance floor for session bookkeeping and is
// deliberately a separate knob from recognition.tolerance: the tolerance decides
// whether a descriptor matches at all, MinConfidence decides whether a match is
// strong enough to count towards attendance confirmation.
type SessionConfig struct {
	MinConfidence   float64 `mapstructure:"min_confidence"`
	MinRecognitions int     `mapstructure:"min_recognitions"`
}

// MQTTConfig holds settings for the attendance event publisher.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// CleanupConfig holds data retention settings.
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables overlay the file values.
	v.AutomaticEnv()
	v.SetEnvPrefix("ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for all configuration keys.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.upload_dir", "/data/uploads")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/attendance.log")

	// DB defaults
	v.SetDefault("db.file", "/data/attendance.db")

	// Camera defaults
	v.SetDefault("camera.device_index", 0)
	v.SetDefault("camera.frame_width", 640)
	v.SetDefault("camera.frame_height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.registration_attempts", 30)

	// Recognition defaults
	v.SetDefault("recognition.model_dir", "/app/models")
	v.SetDefault("recognition.tolerance", 0.6)
	v.SetDefault("recognition.encodings_file", "/data/encodings.dat")
	v.SetDefault("recognition.min_match_confidence", 0.5)
	v.SetDefault("recognition.max_upload_size_mb", 10)
	v.SetDefault("recognition.allowed_extensions", []string{".jpg", ".jpeg", ".png"})

	// Session defaults
	v.SetDefault("session.min_confidence", 0.6)
	v.SetDefault("session.min_recognitions", 3)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "attendance-go")
	v.SetDefault("mqtt.topic", "attendance/events")

	// Cleanup defaults
	v.SetDefault("cleanup.retention_days", 30)
}

// ensureDirectories creates the directories the application writes to.
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.Server.UploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if cfg.Recognition.EncodingsFile != "" {
		encDir := filepath.Dir(cfg.Recognition.EncodingsFile)
		if err := os.MkdirAll(encDir, 0755); err != nil {
			return fmt.Errorf("failed to create encodings directory: %w", err)
		}
	}

	return nil
}
