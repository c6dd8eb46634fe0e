package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	TempDir        string        `yaml:"temp_dir"`
}

type ModelConfig struct {
	Path              string        `yaml:"path"`
	SharedLibraryPath string        `yaml:"shared_library_path"`
	InputSize         int           `yaml:"input_size"`
	NumClasses        int           `yaml:"num_classes"`
	ConfThreshold     float32       `yaml:"confidence_threshold"`
	IoUThreshold      float64       `yaml:"iou_threshold"`
	PoolSize          int           `yaml:"pool_size"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	IntraOpThreads    int           `yaml:"intra_op_threads"`
	InterOpThreads    int           `yaml:"inter_op_threads"`
	InputName         string        `yaml:"input_name"`
	OutputName        string        `yaml:"output_name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration in three layers: the YAML file at path (if
// any), then a .env file in the working directory, then process environment
// overrides. Defaults fill whatever is still empty, except the thresholds,
// which are preset before the file is read so that an explicit 0 is kept.
func Load(path string) (*Config, error) {
	cfg := Config{
		Model: ModelConfig{
			ConfThreshold: 0.25,
			IoUThreshold:  0.7,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Model.Path = getEnv("MODEL_PATH", c.Model.Path)
	c.Model.SharedLibraryPath = getEnv("ONNXRUNTIME_LIB", c.Model.SharedLibraryPath)
	c.Model.PoolSize = getEnvAsInt("POOL_SIZE", c.Model.PoolSize)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	if os.Getenv("DEBUG") == "true" {
		c.Log.Level = "debug"
	}
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}

	if c.Model.Path == "" {
		c.Model.Path = "models/best.onnx"
	}
	if c.Model.SharedLibraryPath == "" {
		c.Model.SharedLibraryPath = defaultSharedLibraryPath()
	}
	if c.Model.InputSize == 0 {
		c.Model.InputSize = 640
	}
	if c.Model.NumClasses == 0 {
		c.Model.NumClasses = 1
	}
	if c.Model.PoolSize == 0 {
		c.Model.PoolSize = 1
	}
	if c.Model.AcquireTimeout == 0 {
		c.Model.AcquireTimeout = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("invalid max upload size: %d", c.Server.MaxUploadBytes)
	}
	if c.Model.InputSize%32 != 0 {
		return fmt.Errorf("model input size must be a multiple of 32, got %d", c.Model.InputSize)
	}
	if c.Model.ConfThreshold < 0 || c.Model.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0,1], got %v", c.Model.ConfThreshold)
	}
	if c.Model.IoUThreshold < 0 || c.Model.IoUThreshold > 1 {
		return fmt.Errorf("iou threshold must be within [0,1], got %v", c.Model.IoUThreshold)
	}
	if c.Model.PoolSize < 1 {
		return fmt.Errorf("pool size must be positive, got %d", c.Model.PoolSize)
	}
	return nil
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaultSharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "lib/onnxruntime.dll"
	case "darwin":
		return "lib/libonnxruntime.1.20.0.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "lib/libonnxruntime_arm64.so.1.20.0"
		}
		return "lib/libonnxruntime.so.1.20.0"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
