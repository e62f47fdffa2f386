package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSegmentNumber = uint64(1)
	DefaultReplicaCount  = uint64(3)

	DefaultMaxFileSize = int64(50 * 1024 * 1024) // per uploaded file
	DefaultMaxBlobSize = int64(32 * 1024 * 1024) // per DA submission

	DefaultProbeTimeout    = 5 * time.Second
	DefaultTransferTimeout = 30 * time.Second
	DefaultSubmitTimeout   = 60 * time.Second
)

// DefaultRateLimiters sizes the per-category HTTP token buckets when the
// config leaves them unset. A zero-limit bucket admits nothing, so every
// category must end up with a positive limit.
var DefaultRateLimiters = RateLimiters{
	Storage: RateLimiterConfig{Limit: 50.0, Burst: 100},
	KV:      RateLimiterConfig{Limit: 200.0, Burst: 400},
	DA:      RateLimiterConfig{Limit: 25.0, Burst: 50},
	System:  RateLimiterConfig{Limit: 50.0, Burst: 100},
	Default: RateLimiterConfig{Limit: 100.0, Burst: 200},
}

// DefaultAllowedMimeTypes is the boundary allow list for file uploads.
var DefaultAllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"application/pdf",
	"text/plain",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Network holds the endpoints and credential for the remote storage and
// availability networks. If RPCURL is empty the gateway falls back to the
// embedded local transport rooted at LocalDir.
type Network struct {
	RPCURL       string `yaml:"rpcUrl"`
	IndexerURL   string `yaml:"indexerUrl"`
	RetrieverURL string `yaml:"retrieverUrl"`
	EncoderURL   string `yaml:"encoderUrl,omitempty"`
	KVNodeURL    string `yaml:"kvNodeUrl"`
	DisperserURL string `yaml:"disperserUrl"`

	// Signer is the signing credential used for uploads and KV writes.
	// Reads work without it; writes fail fast when it is absent.
	Signer string `yaml:"signer"`

	// FlowContract is the contract address the KV overlay batches
	// transactions against. Required for batched mutations.
	FlowContract string `yaml:"flowContract"`

	SkipVerify bool   `yaml:"skipVerify,omitempty"`
	LocalDir   string `yaml:"localDir,omitempty"`
}

type Timeouts struct {
	Probe    time.Duration `yaml:"probe"`
	Transfer time.Duration `yaml:"transfer"`
	Submit   time.Duration `yaml:"submit"`
}

type Storage struct {
	SegmentNumber uint64 `yaml:"segmentNumber"`
	ReplicaCount  uint64 `yaml:"replicaCount"`
	MaxFileSize   int64  `yaml:"maxFileSize"`
	StagingDir    string `yaml:"stagingDir,omitempty"`

	// MetadataStream is the KV stream id attachment metadata is written
	// under.
	MetadataStream uint64 `yaml:"metadataStream"`

	AllowedMimeTypes []string `yaml:"allowedMimeTypes,omitempty"`
}

type DA struct {
	MaxBlobSize           int64         `yaml:"maxBlobSize"`
	QuorumID              uint32        `yaml:"quorumId"`
	AdversaryThreshold    uint8         `yaml:"adversaryThreshold"`
	ConfirmationThreshold uint8         `yaml:"confirmationThreshold"`
	FinalizationLatency   time.Duration `yaml:"finalizationLatency"`
	PollInterval          time.Duration `yaml:"pollInterval"`
	MaxPollAttempts       int           `yaml:"maxPollAttempts"`
}

type Cost struct {
	Base       float64 `yaml:"base"`
	PerByte    float64 `yaml:"perByte"`
	NetworkFee float64 `yaml:"networkFee"`
	PerKBGas   uint64  `yaml:"perKbGas"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // requests per second
	Burst int     `yaml:"burst"`
}

type RateLimiters struct {
	Storage RateLimiterConfig `yaml:"storage"`
	KV      RateLimiterConfig `yaml:"kv"`
	DA      RateLimiterConfig `yaml:"da"`
	System  RateLimiterConfig `yaml:"system"`
	Default RateLimiterConfig `yaml:"default"`
}

type Config struct {
	HTTPBinding  string       `yaml:"httpBinding"`
	Network      Network      `yaml:"network"`
	Timeouts     Timeouts     `yaml:"timeouts"`
	Storage      Storage      `yaml:"storage"`
	DA           DA           `yaml:"da"`
	Cost         Cost         `yaml:"cost"`
	RateLimiters RateLimiters `yaml:"rateLimiters"`
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrHTTPBindingMissing       = errors.New("httpBinding is missing in config")
	ErrLocalDirMissing          = errors.New("network.localDir is required when no rpcUrl is configured")
	ErrKVNodeURLMissing         = errors.New("network.kvNodeUrl is required when rpcUrl is configured")
	ErrDisperserURLMissing      = errors.New("network.disperserUrl is required when rpcUrl is configured")
	ErrMaxBlobSizeInvalid       = errors.New("da.maxBlobSize must be positive")
	ErrThresholdInvalid         = errors.New("da thresholds must be percentages in (0,100)")
)

// LoadConfig reads, unmarshals and validates the gateway configuration.
// Zero-valued optional fields are filled with defaults.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and applies defaults in place.
func (cfg *Config) Validate() error {
	if cfg.HTTPBinding == "" {
		return ErrHTTPBindingMissing
	}

	if cfg.Network.RPCURL == "" {
		if cfg.Network.LocalDir == "" {
			return ErrLocalDirMissing
		}
	} else {
		if cfg.Network.KVNodeURL == "" {
			return ErrKVNodeURLMissing
		}
		if cfg.Network.DisperserURL == "" {
			return ErrDisperserURLMissing
		}
	}

	if cfg.Storage.SegmentNumber == 0 {
		cfg.Storage.SegmentNumber = DefaultSegmentNumber
	}
	if cfg.Storage.ReplicaCount == 0 {
		cfg.Storage.ReplicaCount = DefaultReplicaCount
	}
	if cfg.Storage.MaxFileSize <= 0 {
		cfg.Storage.MaxFileSize = DefaultMaxFileSize
	}
	if len(cfg.Storage.AllowedMimeTypes) == 0 {
		cfg.Storage.AllowedMimeTypes = DefaultAllowedMimeTypes
	}

	if cfg.DA.MaxBlobSize == 0 {
		cfg.DA.MaxBlobSize = DefaultMaxBlobSize
	}
	if cfg.DA.MaxBlobSize < 0 {
		return ErrMaxBlobSizeInvalid
	}
	if cfg.DA.AdversaryThreshold == 0 {
		cfg.DA.AdversaryThreshold = 33
	}
	if cfg.DA.ConfirmationThreshold == 0 {
		cfg.DA.ConfirmationThreshold = 55
	}
	if cfg.DA.AdversaryThreshold >= 100 || cfg.DA.ConfirmationThreshold >= 100 {
		return ErrThresholdInvalid
	}
	if cfg.DA.FinalizationLatency == 0 {
		cfg.DA.FinalizationLatency = 45 * time.Second
	}
	if cfg.DA.PollInterval == 0 {
		cfg.DA.PollInterval = 2 * time.Second
	}
	if cfg.DA.MaxPollAttempts == 0 {
		cfg.DA.MaxPollAttempts = 30
	}

	if cfg.Timeouts.Probe == 0 {
		cfg.Timeouts.Probe = DefaultProbeTimeout
	}
	if cfg.Timeouts.Transfer == 0 {
		cfg.Timeouts.Transfer = DefaultTransferTimeout
	}
	if cfg.Timeouts.Submit == 0 {
		cfg.Timeouts.Submit = DefaultSubmitTimeout
	}

	if cfg.Cost.PerByte == 0 {
		cfg.Cost.Base = 0.001
		cfg.Cost.PerByte = 0.0000001
		cfg.Cost.NetworkFee = 0.0005
		cfg.Cost.PerKBGas = 21
	}

	defaultLimiter(&cfg.RateLimiters.Storage, DefaultRateLimiters.Storage)
	defaultLimiter(&cfg.RateLimiters.KV, DefaultRateLimiters.KV)
	defaultLimiter(&cfg.RateLimiters.DA, DefaultRateLimiters.DA)
	defaultLimiter(&cfg.RateLimiters.System, DefaultRateLimiters.System)
	defaultLimiter(&cfg.RateLimiters.Default, DefaultRateLimiters.Default)

	return nil
}

func defaultLimiter(rl *RateLimiterConfig, def RateLimiterConfig) {
	if rl.Limit <= 0 {
		*rl = def
		return
	}
	// An explicit limit with no burst would still admit nothing.
	if rl.Burst < 1 {
		rl.Burst = int(rl.Limit)
		if rl.Burst < 1 {
			rl.Burst = 1
		}
	}
}

// GenerateConfig produces a runnable default configuration rooted at the
// embedded local transport. Useful for first launch and development.
func GenerateConfig() *Config {
	cfg := Config{
		HTTPBinding: "127.0.0.1:8420",
		Network: Network{
			LocalDir: "data/strand",
			Signer:   "please_change_this_signing_credential!!!",
		},
	}
	// Fill the remaining defaults the same way LoadConfig would.
	_ = cfg.Validate()
	return &cfg
}
