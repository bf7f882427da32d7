// Package config loads the service configuration from YAML files with an
// environment variable overlay.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/slighter12/go-lib/database/postgres"
)

const defaultPath = "."

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	WS WSConfig `json:"ws" yaml:"ws"`

	Worker WorkerConfig `json:"worker" yaml:"worker"`

	Presence PresenceConfig `json:"presence" yaml:"presence"`

	Geo GeoConfig `json:"geo" yaml:"geo"`

	Postgres *postgres.DBConn `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	// Auth holds the shared secret for vendor access tokens. Token issuance
	// belongs to the external identity service; we only verify.
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// PubSub configuration for mirroring applied presence events.
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`

	// Firebase configuration for the push worker.
	Firebase *FirebaseConfig `json:"firebase" yaml:"firebase"`

	// QRCode configuration for vendor tracking QR codes.
	QRCode *QRCodeConfig `json:"qrcode" yaml:"qrcode"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// WSConfig tunes the websocket gateway.
type WSConfig struct {
	Port int `json:"port" yaml:"port"`

	// HeartbeatTimeout is how long a connection may stay silent (no frames,
	// no pong) before it is treated as disconnected.
	HeartbeatTimeout time.Duration `json:"heartbeatTimeout" yaml:"heartbeatTimeout"`

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`

	// OutboundQueueSize caps the per-connection outbound event queue.
	OutboundQueueSize int `json:"outboundQueueSize" yaml:"outboundQueueSize"`

	// MaxMessageBytes caps inbound frame size.
	MaxMessageBytes int64 `json:"maxMessageBytes" yaml:"maxMessageBytes"`
}

// WorkerConfig tunes the push worker HTTP server.
type WorkerConfig struct {
	Port int `json:"port" yaml:"port"`
}

// PresenceConfig tunes the in-memory presence store and its pipeline.
type PresenceConfig struct {
	// ApplyWorkers is the size of the fixed pool applying vendor updates.
	// Updates are routed to a worker by vendor-id hash to keep per-vendor order.
	ApplyWorkers int `json:"applyWorkers" yaml:"applyWorkers"`

	// IntakeQueueSize caps each apply worker's inbound queue.
	IntakeQueueSize int `json:"intakeQueueSize" yaml:"intakeQueueSize"`

	// DispatchQueueSize caps the applied-update queue feeding the dispatcher.
	DispatchQueueSize int `json:"dispatchQueueSize" yaml:"dispatchQueueSize"`

	// VendorTimeout marks a silent vendor implicitly offline.
	VendorTimeout time.Duration `json:"vendorTimeout" yaml:"vendorTimeout"`

	// SweepInterval is how often the liveness reaper scans for silent vendors.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`

	// WriteThroughQueueSize caps the durable write-through queue.
	WriteThroughQueueSize int `json:"writeThroughQueueSize" yaml:"writeThroughQueueSize"`

	// WriteThroughRetries bounds retry attempts for a failed durable write.
	WriteThroughRetries int `json:"writeThroughRetries" yaml:"writeThroughRetries"`

	// WriteThroughBackoff is the initial retry backoff, doubled per attempt.
	WriteThroughBackoff time.Duration `json:"writeThroughBackoff" yaml:"writeThroughBackoff"`
}

// GeoConfig tunes the subscription registry's spatial index.
type GeoConfig struct {
	// DefaultCellSizeKm seeds the grid before any median radius is known.
	DefaultCellSizeKm float64 `json:"defaultCellSizeKm" yaml:"defaultCellSizeKm"`

	// DefaultRadiusKm is used when a subscribe carries no radius.
	DefaultRadiusKm float64 `json:"defaultRadiusKm" yaml:"defaultRadiusKm"`

	// MaxRadiusKm caps the radius a customer may request.
	MaxRadiusKm float64 `json:"maxRadiusKm" yaml:"maxRadiusKm"`
}

// AuthConfig defines token verification settings.
type AuthConfig struct {
	VendorTokenSecret string `json:"vendorTokenSecret" yaml:"vendorTokenSecret"`
}

// PubSubConfig defines Pub/Sub configuration for event publishing.
type PubSubConfig struct {
	// Provider type: "local" for local HTTP or "google" for Google Pub/Sub.
	Provider string `json:"provider" yaml:"provider"`

	// Google Cloud project ID (for google provider).
	ProjectID string `json:"projectId" yaml:"projectId"`

	// Pub/Sub topic ID (for google provider).
	TopicID string `json:"topicId" yaml:"topicId"`

	// Local HTTP endpoint for development (for local provider).
	LocalEndpoint string `json:"localEndpoint" yaml:"localEndpoint"`
}

// FirebaseConfig defines Firebase configuration for push notifications.
type FirebaseConfig struct {
	ProjectID       string `json:"projectId" yaml:"projectId"`
	CredentialsPath string `json:"credentialsPath" yaml:"credentialsPath"`
}

// QRCodeConfig defines QR code generation configuration.
type QRCodeConfig struct {
	Size                 int    `json:"size" yaml:"size"`
	ErrorCorrectionLevel string `json:"errorCorrectionLevel" yaml:"errorCorrectionLevel"`
	BaseURL              string `json:"baseUrl" yaml:"baseUrl"`
}

// LoadWithEnv loads .yaml files through koanf with an env var overlay.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			searchPaths = append(searchPaths, filepath.Join(pwd, path))
		}
	}

	var configFile string
	var found bool
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			found = true

			break
		}
	}

	if !found {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			// Convert ENV_VAR_NAME to a path and align each segment with the
			// existing YAML keys, e.g. PRESENCE_VENDORTIMEOUT -> presence.vendorTimeout.
			return canonicalizeEnvKey(k, existingConfigMap), v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

// New loads the service config and fills defaults for unset tunables.
func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WS.Port <= 0 {
		c.WS.Port = 8080
	}
	if c.WS.HeartbeatTimeout <= 0 {
		c.WS.HeartbeatTimeout = 30 * time.Second
	}
	if c.WS.WriteTimeout <= 0 {
		c.WS.WriteTimeout = 10 * time.Second
	}
	if c.WS.OutboundQueueSize <= 0 {
		c.WS.OutboundQueueSize = 256
	}
	if c.WS.MaxMessageBytes <= 0 {
		c.WS.MaxMessageBytes = 16 * 1024
	}
	if c.Worker.Port <= 0 {
		c.Worker.Port = 8081
	}
	if c.Presence.ApplyWorkers <= 0 {
		c.Presence.ApplyWorkers = 8
	}
	if c.Presence.IntakeQueueSize <= 0 {
		c.Presence.IntakeQueueSize = 512
	}
	if c.Presence.DispatchQueueSize <= 0 {
		c.Presence.DispatchQueueSize = 1024
	}
	if c.Presence.VendorTimeout <= 0 {
		c.Presence.VendorTimeout = 90 * time.Second
	}
	if c.Presence.SweepInterval <= 0 {
		c.Presence.SweepInterval = 15 * time.Second
	}
	if c.Presence.WriteThroughQueueSize <= 0 {
		c.Presence.WriteThroughQueueSize = 1024
	}
	if c.Presence.WriteThroughRetries <= 0 {
		c.Presence.WriteThroughRetries = 5
	}
	if c.Presence.WriteThroughBackoff <= 0 {
		c.Presence.WriteThroughBackoff = 200 * time.Millisecond
	}
	if c.Geo.DefaultCellSizeKm <= 0 {
		c.Geo.DefaultCellSizeKm = 2.0
	}
	if c.Geo.DefaultRadiusKm <= 0 {
		c.Geo.DefaultRadiusKm = 1.0
	}
	if c.Geo.MaxRadiusKm <= 0 {
		c.Geo.MaxRadiusKm = 50.0
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}
