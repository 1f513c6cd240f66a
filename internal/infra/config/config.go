package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"snapsight/internal/domain"
)

// Config is the top-level application configuration. It is loaded once and
// passed by value into each component's constructor.
type Config struct {
	Proxy   ProxyConfig   `yaml:"proxy"`
	Vision  VisionConfig  `yaml:"vision"`
	Client  ClientConfig  `yaml:"client"`
	Capture CaptureConfig `yaml:"capture"`
	Camera  CameraConfig  `yaml:"camera"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// ProxyConfig holds the analysis proxy HTTP settings.
type ProxyConfig struct {
	Addr            string          `yaml:"addr"`
	Routes          []string        `yaml:"routes"`
	MaxUploadBytes  int64           `yaml:"max_upload_bytes"`
	MultipartMemory int64           `yaml:"multipart_memory"` // bytes held in memory before spilling to temp files
	TempDir         string          `yaml:"temp_dir,omitempty"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// PoolConfig holds HTTP connection pool settings for the vision provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for the OpenAI-compatible vision provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// CircuitBreakerConfig configures the breaker around the vision provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// VisionConfig holds the remote vision call settings.
type VisionConfig struct {
	Provider       ProviderConfig       `yaml:"provider"`
	Prompt         string               `yaml:"prompt"`
	MaxTokens      int                  `yaml:"max_tokens"`
	Detail         string               `yaml:"detail,omitempty"` // "low", "high", "auto"
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ClientConfig holds upload client settings. Transport is fixed per client.
type ClientConfig struct {
	ProxyURL  string        `yaml:"proxy_url"`
	Endpoint  string        `yaml:"endpoint"`
	Transport string        `yaml:"transport"` // "multipart" or "json"
	Timeout   time.Duration `yaml:"timeout"`
	Overlap   string        `yaml:"overlap"` // "disallow" or "supersede"
}

// CaptureConfig holds frame capture settings.
type CaptureConfig struct {
	MaxSize  int     `yaml:"max_size"`
	Quality  float64 `yaml:"quality"`   // 0 < q <= 1
	CropMode string  `yaml:"crop_mode"` // "square" or "full"
}

// CameraConfig holds device acquisition settings.
type CameraConfig struct {
	DefaultFacing  string `yaml:"default_facing"`
	MirrorFront    bool   `yaml:"mirror_front"`
	AllowAnyDevice bool   `yaml:"allow_any_device"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Transport and overlap values.
const (
	TransportMultipart = "multipart"
	TransportJSON      = "json"

	OverlapDisallow  = "disallow"
	OverlapSupersede = "supersede"

	CropSquare = "square"
	CropFull   = "full"
)

// DefaultPrompt is the fixed instruction sent with every frame.
const DefaultPrompt = "Describe what you see in this image briefly."

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Addr:            ":8080",
			Routes:          []string{"/api/vision", "/api/vision/analyze"},
			MaxUploadBytes:  10 * 1024 * 1024, // 10 MiB
			MultipartMemory: 1 * 1024 * 1024,  // 1 MiB
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 60,
				Burst:          10,
			},
		},
		Vision: VisionConfig{
			Provider: ProviderConfig{
				Name:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Prompt:    DefaultPrompt,
			MaxTokens: 300,
			Timeout:   60 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Client: ClientConfig{
			ProxyURL:  "http://localhost:8080",
			Endpoint:  "/api/vision",
			Transport: TransportMultipart,
			Timeout:   30 * time.Second,
			Overlap:   OverlapDisallow,
		},
		Capture: CaptureConfig{
			MaxSize:  800,
			Quality:  0.8,
			CropMode: CropSquare,
		},
		Camera: CameraConfig{
			DefaultFacing: "rear",
			MirrorFront:   true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
// Read and parse failures match domain.ErrConfigLoad, a bad enc: value
// matches domain.ErrDecryption and a bad value is a *ValidationError.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfigLoad, path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", domain.ErrConfigLoad, err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrConfigLoad, path, err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SNAPSIGHT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDecryption, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SNAPSIGHT_* env vars to config fields. The vision
// API key also falls back to OPENAI_API_KEY when nothing else set it.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNAPSIGHT_PROXY_ADDR"); v != "" {
		cfg.Proxy.Addr = v
	}
	if v := os.Getenv("SNAPSIGHT_PROXY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Proxy.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("SNAPSIGHT_PROXY_RATE_LIMIT_ENABLED"); v == "false" {
		cfg.Proxy.RateLimit.Enabled = false
	}
	if v := os.Getenv("SNAPSIGHT_PROXY_TRUSTED_PROXIES"); v != "" {
		cfg.Proxy.RateLimit.TrustedProxies = splitAndTrim(v, ",")
	}

	if v := os.Getenv("SNAPSIGHT_VISION_BASE_URL"); v != "" {
		cfg.Vision.Provider.BaseURL = v
	}
	if v := os.Getenv("SNAPSIGHT_VISION_MODEL"); v != "" {
		cfg.Vision.Provider.Model = v
	}
	if v := os.Getenv("SNAPSIGHT_VISION_API_KEY"); v != "" {
		cfg.Vision.Provider.APIKey = v
	}
	if cfg.Vision.Provider.APIKey == "" {
		cfg.Vision.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("SNAPSIGHT_VISION_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Vision.MaxTokens = n
		}
	}
	if v := os.Getenv("SNAPSIGHT_VISION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Vision.Timeout = d
		}
	}

	if v := os.Getenv("SNAPSIGHT_CLIENT_PROXY_URL"); v != "" {
		cfg.Client.ProxyURL = v
	}
	if v := os.Getenv("SNAPSIGHT_CLIENT_TRANSPORT"); v != "" {
		cfg.Client.Transport = v
	}
	if v := os.Getenv("SNAPSIGHT_CLIENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Client.Timeout = d
		}
	}

	if v := os.Getenv("SNAPSIGHT_CAPTURE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Capture.MaxSize = n
		}
	}
	if v := os.Getenv("SNAPSIGHT_CAPTURE_QUALITY"); v != "" {
		if q, err := strconv.ParseFloat(v, 64); err == nil && q > 0 && q <= 1 {
			cfg.Capture.Quality = q
		}
	}

	if v := os.Getenv("SNAPSIGHT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SNAPSIGHT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SNAPSIGHT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SNAPSIGHT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets decrypts "enc:..." values in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	key := cfg.Vision.Provider.APIKey
	if strings.HasPrefix(key, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("vision provider %s api_key: %w", cfg.Vision.Provider.Name, err)
		}
		cfg.Vision.Provider.APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	salt, data, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	rawData, err := hex.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, rawSalt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rawData) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, rawData[:nonceSize], rawData[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others,
// since they may hold the provider credential.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
