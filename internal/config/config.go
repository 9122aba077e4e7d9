// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names accepted in the strategy key.
const (
	StrategyProcess = "process"
	StrategyFrame   = "frame"
)

// AppConfig is the effective daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel          string `yaml:"logLevel"`
	ArtifactRoot      string `yaml:"artifactRoot"`
	ListenAddr        string `yaml:"listenAddr"`
	PublicBaseURL     string `yaml:"publicBaseURL"`
	URLPrefix         string `yaml:"urlPrefix"`
	Strategy          string `yaml:"strategy"`
	ValidateOnLookup  bool   `yaml:"validateOnLookup"`
	WatchArtifactRoot bool   `yaml:"watchArtifactRoot"`

	FFmpeg    FFmpegConfig        `yaml:"ffmpeg"`
	Captions  CaptionsConfig      `yaml:"captions"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
	CORS      CORSConfig          `yaml:"cors"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
	Server    ServerRuntimeConfig `yaml:"server"`
}

// FFmpegConfig configures both transcode strategies.
type FFmpegConfig struct {
	Bin                 string        `yaml:"bin"`
	HWAccel             string        `yaml:"hwaccel"`
	HWAccelOutputFormat string        `yaml:"hwaccelOutputFormat"`
	VideoEncoder        string        `yaml:"videoEncoder"`
	EncoderOptions      string        `yaml:"encoderOptions"`
	AudioCodec          string        `yaml:"audioCodec"`
	SegmentSeconds      int           `yaml:"segmentSeconds"`
	AudioSampleRate     int           `yaml:"audioSampleRate"`
	AudioChannels       int           `yaml:"audioChannels"`
	KillGrace           time.Duration `yaml:"killGrace"`
}

// CaptionsConfig configures the speech-to-text provider.
type CaptionsConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	AppID        string        `yaml:"appID"`
	AccessToken  string        `yaml:"accessToken"`
	MaxLines     int           `yaml:"maxLines"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Enabled reports whether provider credentials are present.
func (c CaptionsConfig) Enabled() bool {
	return c.AppID != "" && c.AccessToken != ""
}

// RateLimitConfig limits the JSON API per client IP.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	RPM     int  `yaml:"rpm"`
}

// CORSConfig lists the origins allowed to call the API and fetch artifacts.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// ServerRuntimeConfig holds the HTTP server timeouts.
type ServerRuntimeConfig struct {
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes  int           `yaml:"maxHeaderBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults -> strict file parse -> env -> derived values -> validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	cfg.Version = l.version
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		cfg.PublicBaseURL = "http://" + cfg.ListenAddr
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:          "info",
		ArtifactRoot:      "hls",
		ListenAddr:        "localhost:3117",
		URLPrefix:         "/hls",
		Strategy:          StrategyProcess,
		ValidateOnLookup:  true,
		WatchArtifactRoot: true,
		FFmpeg: FFmpegConfig{
			Bin:             "ffmpeg",
			VideoEncoder:    "libx264",
			EncoderOptions:  "preset=medium",
			AudioCodec:      "aac",
			SegmentSeconds:  10,
			AudioSampleRate: 16000,
			AudioChannels:   2,
			KillGrace:       2 * time.Second,
		},
		Captions: CaptionsConfig{
			Endpoint:     "https://openspeech.bytedance.com/api/v1/vc",
			MaxLines:     2,
			PollInterval: 2 * time.Second,
			Timeout:      10 * time.Minute,
		},
		RateLimit: RateLimitConfig{Enabled: true, RPM: 600},
		Telemetry: TelemetryConfig{Exporter: "grpc", Endpoint: "localhost:4317", SamplingRate: 1.0},
		Server: ServerRuntimeConfig{
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			MaxHeaderBytes:  defaultMaxHeaderBytes,
			ShutdownTimeout: defaultShutdownTimeout,
		},
	}
}

// loadFile decodes a YAML file over dst with STRICT parsing.
// Unknown fields are fatal to catch typos early.
func (l *Loader) loadFile(path string, dst *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	data = []byte(expandEnv(string(data)))

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnvConfig applies environment overrides. Every key read is recorded
// in ConsumedEnvKeys.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("STREAMCACHE_LOG_LEVEL", cfg.LogLevel)
	cfg.ArtifactRoot = l.envString("STREAMCACHE_ARTIFACT_ROOT", cfg.ArtifactRoot)
	cfg.ListenAddr = l.envString("STREAMCACHE_LISTEN", cfg.ListenAddr)
	cfg.PublicBaseURL = l.envString("STREAMCACHE_PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.Strategy = l.envString("STREAMCACHE_STRATEGY", cfg.Strategy)
	cfg.ValidateOnLookup = l.envBool("STREAMCACHE_VALIDATE_ON_LOOKUP", cfg.ValidateOnLookup)
	cfg.WatchArtifactRoot = l.envBool("STREAMCACHE_WATCH_ROOT", cfg.WatchArtifactRoot)

	cfg.FFmpeg.Bin = l.envString("STREAMCACHE_FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.HWAccel = l.envString("STREAMCACHE_HWACCEL", cfg.FFmpeg.HWAccel)
	cfg.FFmpeg.HWAccelOutputFormat = l.envString("STREAMCACHE_HWACCEL_OUTPUT_FORMAT", cfg.FFmpeg.HWAccelOutputFormat)
	cfg.FFmpeg.VideoEncoder = l.envString("STREAMCACHE_VIDEO_ENCODER", cfg.FFmpeg.VideoEncoder)
	cfg.FFmpeg.EncoderOptions = l.envString("STREAMCACHE_ENCODER_OPTIONS", cfg.FFmpeg.EncoderOptions)
	cfg.FFmpeg.SegmentSeconds = l.envInt("STREAMCACHE_SEGMENT_SECONDS", cfg.FFmpeg.SegmentSeconds)

	cfg.Captions.Endpoint = l.envString("STREAMCACHE_CAPTIONS_ENDPOINT", cfg.Captions.Endpoint)
	cfg.Captions.AppID = l.envString("VC_APP_ID", cfg.Captions.AppID)
	cfg.Captions.AccessToken = l.envString("VC_APP_ACCESS_TOKEN", cfg.Captions.AccessToken)
	cfg.Captions.PollInterval = l.envDuration("STREAMCACHE_CAPTIONS_POLL_INTERVAL", cfg.Captions.PollInterval)
	cfg.Captions.Timeout = l.envDuration("STREAMCACHE_CAPTIONS_TIMEOUT", cfg.Captions.Timeout)

	if v, ok := l.envLookup("STREAMCACHE_RATE_LIMIT_RPM"); ok && v != "" {
		rpm := l.envInt("STREAMCACHE_RATE_LIMIT_RPM", cfg.RateLimit.RPM)
		cfg.RateLimit.Enabled = rpm > 0
		if rpm > 0 {
			cfg.RateLimit.RPM = rpm
		}
	}
	if v, ok := l.envLookup("STREAMCACHE_CORS_ORIGINS"); ok && v != "" {
		cfg.CORS.AllowedOrigins = parseCommaSeparated(v, cfg.CORS.AllowedOrigins)
	}

	cfg.Telemetry.Enabled = l.envBool("STREAMCACHE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("STREAMCACHE_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("STREAMCACHE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("STREAMCACHE_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Server.ReadTimeout = l.envDuration("STREAMCACHE_SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = l.envDuration("STREAMCACHE_SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = l.envDuration("STREAMCACHE_SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = l.envDuration("STREAMCACHE_SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envLookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	return os.LookupEnv(key)
}

func parseCommaSeparated(envVal string, defaults []string) []string {
	var out []string
	for _, part := range strings.Split(envVal, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}

// plainConfig has AppConfig's fields but not its String method.
type plainConfig AppConfig

// String renders cfg with secrets masked, for startup logs.
func (c AppConfig) String() string {
	masked := c
	if masked.Captions.AccessToken != "" {
		masked.Captions.AccessToken = "***"
	}
	return fmt.Sprintf("%+v", plainConfig(masked))
}
