package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-default:"production"`
	HTTPServer HTTPServer `yaml:"http_server"`
	Redis      Redis      `yaml:"redis"`
	Storage    Storage    `yaml:"storage"`
	Intake     Intake     `yaml:"intake"`
	Transcode  Transcode  `yaml:"transcode"`
	Worker     Worker     `yaml:"worker"`
	Lifecycle  Lifecycle  `yaml:"lifecycle"`
	Mail       Mail       `yaml:"mail"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDR" env-default:"localhost:6379" validate:"required"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"transcode:"`
}

type Storage struct {
	Driver          string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"minio" validate:"oneof=minio s3"`
	Endpoint        string `yaml:"endpoint" env:"STORAGE_ENDPOINT" env-default:"localhost:9000"`
	Region          string `yaml:"region" env:"STORAGE_REGION" env-default:"ap-south-1"`
	Bucket          string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"transcode-nexus-storage" validate:"required"`
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" env:"STORAGE_USE_SSL" env-default:"false"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"STORAGE_USE_PATH_STYLE" env-default:"false"`
}

type Intake struct {
	MaxUploadSize      int64    `yaml:"max_upload_size" env:"INTAKE_MAX_UPLOAD_SIZE" env-default:"104857600" validate:"gt=0"`
	AllowedExtensions  []string `yaml:"allowed_extensions" env:"INTAKE_ALLOWED_EXTENSIONS" env-separator:"," env-default:"mp4,avi,mov,webm,mkv" validate:"min=1,dive,oneof=mp4 avi mov webm mkv"`
	DefaultFormat      string   `yaml:"default_format" env:"INTAKE_DEFAULT_FORMAT" env-default:"avi" validate:"oneof=mp4 avi mov webm mkv"`
	RateLimitPerMinute int64    `yaml:"rate_limit_per_minute" env:"INTAKE_RATE_LIMIT_PER_MINUTE" env-default:"20"`
}

type Transcode struct {
	FFmpegBinary string        `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY" env-default:"ffmpeg"`
	Timeout      time.Duration `yaml:"timeout" env:"TRANSCODE_TIMEOUT" env-default:"30m" validate:"gt=0"`
	WorkDir      string        `yaml:"work_dir" env:"TRANSCODE_WORK_DIR"`
	URLTTL       time.Duration `yaml:"url_ttl" env:"TRANSCODE_URL_TTL" env-default:"1h" validate:"gt=0,lte=1h"`
}

type Worker struct {
	Count            int           `yaml:"count" env:"WORKER_COUNT" env-default:"3" validate:"gt=0"`
	PollTimeout      time.Duration `yaml:"poll_timeout" env:"WORKER_POLL_TIMEOUT" env-default:"5s" validate:"gt=0"`
	StaleAfter       time.Duration `yaml:"stale_after" env:"WORKER_STALE_AFTER" env-default:"45m" validate:"gt=0"`
	RecoveryInterval time.Duration `yaml:"recovery_interval" env:"WORKER_RECOVERY_INTERVAL" env-default:"5m" validate:"gt=0"`
	MetricsAddress   string        `yaml:"metrics_address" env:"WORKER_METRICS_ADDRESS" env-default:":9091"`
}

type Lifecycle struct {
	Retention    time.Duration `yaml:"retention" env:"LIFECYCLE_RETENTION" env-default:"30m" validate:"gt=0"`
	LeaseTTL     time.Duration `yaml:"lease_ttl" env:"LIFECYCLE_LEASE_TTL" env-default:"2h"`
	JobRecordTTL time.Duration `yaml:"job_record_ttl" env:"LIFECYCLE_JOB_RECORD_TTL" env-default:"1h" validate:"gt=0"`
}

type Mail struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:"smtp.gmail.com"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"465"`
	Username string `yaml:"username" env:"EMAIL_ADDRESS"`
	Password string `yaml:"password" env:"EMAIL_PASSWORD"`
	From     string `yaml:"from" env:"EMAIL_FROM"`
	UseSSL   bool   `yaml:"use_ssl" env:"SMTP_USE_SSL" env-default:"true"`
}

// Load reads the config file at path, or only the environment when path is
// empty, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	} else {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// a job still inside its transcode timeout must never look abandoned
	if cfg.Worker.StaleAfter <= cfg.Transcode.Timeout {
		return nil, fmt.Errorf("invalid config: worker.stale_after (%s) must exceed transcode.timeout (%s)",
			cfg.Worker.StaleAfter, cfg.Transcode.Timeout)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	// a missing .env file is fine
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")

	if configPath == "" {
		flags := flag.String("config", "", "Path to config file")
		flag.Parse()
		configPath = *flags
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Fatalf("config file does not exist at path: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}

	return cfg
}
