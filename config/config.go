package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Codec backends.
const (
	BackendNative = "native"
	BackendVips   = "vips"
)

// EnvPrefix prefixes every environment variable that is not one of the
// deployment names listed in deploymentEnv.
const EnvPrefix = "IMGPROC"

// Config is the top-level configuration struct.  Default() fills every field
// from its `default` tag; Load overlays a file and the environment on top.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `mapstructure:"worker_count" validate:"gte=0"` // 0 = runtime.NumCPU()
	QueueSize   int           `mapstructure:"queue_size" default:"256" validate:"gt=0"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" default:"30s"`

	// Retry of transient step failures.
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay" default:"200ms"`

	// Output encoding.
	DefaultQuality int    `mapstructure:"quality" default:"85" validate:"min=1,max=100"`
	Lossless       bool   `mapstructure:"lossless"`
	OutputFormat   string `mapstructure:"output_format" default:"webp" validate:"oneof=webp jpeg png"`

	// ThumbnailSize is the target length of the thumbnail's shorter edge.
	ThumbnailSize int `mapstructure:"thumbnail_size" default:"300" validate:"gt=0"`
	// MaxOutputPixels caps the pixel count of a scaled output.  Extreme
	// aspect ratios would otherwise blow up when the short edge is enlarged.
	MaxOutputPixels int64 `mapstructure:"max_output_pixels" default:"50000000" validate:"gte=0"`

	// Backend selects the codec implementation: "native" (pure Go decoders,
	// libwebp encoder) or "vips" (requires the vips build tag).
	Backend string `mapstructure:"backend" default:"native" validate:"oneof=native vips"`

	// Streaming / memory limits.
	MaxImageBytes int64 `mapstructure:"max_image_bytes" validate:"gte=0"` // 0 = no limit
	ChunkSize     int   `mapstructure:"chunk_size" default:"32768" validate:"gt=0"`

	Storage StorageBackend `mapstructure:"storage" default:"local" validate:"oneof=local s3"`
	Local   LocalConfig    `mapstructure:"local"`
	S3      S3Config       `mapstructure:"s3"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `mapstructure:"root_dir" default:"output"`
	Permissions uint32 `mapstructure:"permissions" default:"420"` // 0644
}

// S3Config configures the S3 source/destination buckets and key layout.
type S3Config struct {
	Region            string `mapstructure:"region" default:"ap-northeast-2"`
	Endpoint          string `mapstructure:"endpoint"` // optional custom endpoint (MinIO, localstack)
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	UsePathStyle      bool   `mapstructure:"use_path_style"`
	SourceBucket      string `mapstructure:"source_bucket"`
	DestinationBucket string `mapstructure:"destination_bucket"`
	// SourcePrefix restricts processing to keys below it; it is stripped
	// when destination keys are derived.
	SourcePrefix    string `mapstructure:"source_prefix"`
	OriginalPrefix  string `mapstructure:"original_prefix" default:"original"`
	ThumbnailPrefix string `mapstructure:"thumbnail_prefix" default:"thumbnail"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" default:"json" validate:"oneof=json console"`
	// File, when set, adds a size-rotated log file next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" default:"100"`
	MaxBackups int    `mapstructure:"max_backups" default:"5"`
	MaxAgeDays int    `mapstructure:"max_age_days" default:"7"`
}

// MetricsConfig configures how short-lived processes publish their
// Prometheus series.
type MetricsConfig struct {
	// PushGateway is the Pushgateway base URL.  When empty, a summary of the
	// registry is logged instead.
	PushGateway string `mapstructure:"push_gateway" validate:"omitempty,url"`
	Job         string `mapstructure:"job" default:"trackery-image-processor" validate:"required"`
}

// deploymentEnv binds config keys to the variable names used by the
// deployed function.
var deploymentEnv = map[string]string{
	"s3.region":             "AWS_REGION",
	"s3.source_bucket":      "SOURCE_BUCKET",
	"s3.destination_bucket": "DESTINATION_BUCKET",
	"s3.source_prefix":      "SOURCE_PREFIX",
	"s3.original_prefix":    "DESTINATION_ORIGINAL_PATH",
	"s3.thumbnail_prefix":   "DESTINATION_THUMBNAIL_PATH",
}

// prefixedKeys are reachable as IMGPROC_<KEY> with dots replaced by underscores.
var prefixedKeys = []string{
	"worker_count", "queue_size", "job_timeout", "max_retries", "retry_delay",
	"quality", "lossless", "output_format", "thumbnail_size", "max_output_pixels", "backend",
	"max_image_bytes", "chunk_size", "storage",
	"local.root_dir", "local.permissions",
	"s3.endpoint", "s3.access_key_id", "s3.secret_access_key", "s3.use_path_style",
	"log.level", "log.format", "log.file", "log.max_size_mb", "log.max_backups", "log.max_age_days",
	"metrics.push_gateway", "metrics.job",
}

// Default returns a Config populated with production defaults.
func Default() Config {
	var c Config
	defaults.MustSet(&c)
	return c
}

// Load builds a Config from defaults, the optional file at path (any format
// viper understands) and the environment, in increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range prefixedKeys {
		if err := v.BindEnv(k); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}
	for k, env := range deploymentEnv {
		if err := v.BindEnv(k, env); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	// Empty values from the environment must not wipe defaults.
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: defaults: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Storage == StorageS3 && c.S3.DestinationBucket == "" {
		return errors.New("config: S3.DestinationBucket is required for s3 storage")
	}
	return nil
}
