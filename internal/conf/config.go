// config.go: settings structure and loading for the SODAV Monitor detection core.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Log rotation types.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// LogConfig defines the configuration for a log file.
type LogConfig struct {
	Enabled  bool   // true to enable this log
	Path     string // path to log file
	Rotation string // rotation type: "daily", "weekly" or "size"
	MaxSize  int64  // max size in bytes for size rotation
}

// MainSettings contains the main application settings.
type MainSettings struct {
	Name string    // name of this monitor node
	Log  LogConfig // main log settings
}

// AudioSettings contains stream decoding and windowing settings.
type AudioSettings struct {
	SampleRate int     // decoding target sample rate, default 44100
	MinLength  float64 // minimum analysis window length in seconds
	MaxLength  float64 // maximum analysis window length in seconds
	Window     float64 // analysis window length in seconds, clamped to [MinLength, MaxLength]
	FfmpegPath string  // path to ffmpeg binary, runtime value
}

// DetectionSettings contains matching thresholds for the detection pipeline.
type DetectionSettings struct {
	MinConfidence       float64 // local match cutoff before external fallback
	SameTrackSimilarity float64 // similarity threshold for play continuity
	SilenceDuration     float64 // seconds of non-music that ends a play
}

// ProviderConfig contains per-provider recognition settings.
type ProviderConfig struct {
	Enabled   bool    // true to enable this provider
	APIKey    string  // provider API key
	Threshold float64 // minimum confidence accepted from this provider
	RateLimit float64 // requests per second allowed for this provider
	Burst     int     // token bucket burst size
}

// ProviderSettings contains settings for external recognition providers.
type ProviderSettings struct {
	MaxRetries     int            // retry cap for transient provider failures
	RequestTimeout int            // provider deadline in seconds
	AcoustID       ProviderConfig // AcoustID/MusicBrainz lookup
	AudD           ProviderConfig // AudD recognition
}

// StationSettings contains station supervision settings.
type StationSettings struct {
	HealthcheckInterval int // station probe period in seconds
	MaxFailures         int // consecutive probe failures before a station is marked inactive
	RecoveryInterval    int // probe period for inactive stations in seconds
	ShutdownGrace       int // graceful shutdown budget in seconds
}

// MQTTSettings contains settings for the MQTT notification subscriber.
type MQTTSettings struct {
	Enabled  bool   // true to publish events over MQTT
	Broker   string // broker URI (tcp://host:port)
	Topic    string // topic prefix for published events
	Username string // broker username
	Password string // broker password
	Retain   bool   // true to retain messages at the broker
}

// NotificationSettings contains event delivery settings.
type NotificationSettings struct {
	QueueSize int          // per-subscriber bounded queue size
	MQTT      MQTTSettings // MQTT subscriber settings
}

// TelemetrySettings contains settings for the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// SQLiteSettings contains SQLite output settings.
type SQLiteSettings struct {
	Enabled bool   // true to enable the SQLite store
	Path    string // path to database file
}

// MySQLSettings contains MySQL output settings.
type MySQLSettings struct {
	Enabled  bool   // true to enable the MySQL store
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// OutputSettings contains persistence settings.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// Settings is the root configuration for the detection core.
type Settings struct {
	Debug bool // true to enable debug output

	Main         MainSettings
	Audio        AudioSettings
	Detection    DetectionSettings
	Providers    ProviderSettings
	Stations     StationSettings
	Notification NotificationSettings
	Telemetry    TelemetrySettings
	Output       OutputSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the singleton Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets up viper with the config file, defaults and env bindings.
func initViper() error {
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	viper.SetConfigName("config")

	setDefaultConfig()
	bindEnvironment()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return createDefaultConfig(configPaths)
	}
	return nil
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// bindEnvironment binds credential environment variables so API keys never
// need to live in the config file.
func bindEnvironment() {
	_ = viper.BindEnv("providers.acoustid.apikey", "ACOUSTID_API_KEY")
	_ = viper.BindEnv("providers.audd.apikey", "AUDD_API_KEY")
	_ = viper.BindEnv("output.mysql.password", "MYSQL_PASSWORD")
}

// createDefaultConfig writes the embedded config template to the first
// config path and reads it back in.
func createDefaultConfig(configPaths []string) error {
	if len(configPaths) == 0 {
		return fmt.Errorf("no configuration paths available")
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig returns the embedded default configuration template.
func getDefaultConfig() (string, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return "", fmt.Errorf("error reading embedded config template: %w", err)
	}
	return string(data), nil
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(err)
			}
		}
	})

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// RequestTimeout returns the provider deadline as a duration.
func (p *ProviderSettings) GetRequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// WindowDuration returns the analysis window length clamped to the
// configured bounds.
func (a *AudioSettings) WindowDuration() time.Duration {
	w := a.Window
	if w < a.MinLength {
		w = a.MinLength
	}
	if w > a.MaxLength {
		w = a.MaxLength
	}
	return time.Duration(w * float64(time.Second))
}

// HealthcheckPeriod returns the station probe interval as a duration.
func (s *StationSettings) HealthcheckPeriod() time.Duration {
	return time.Duration(s.HealthcheckInterval) * time.Second
}

// RecoveryPeriod returns the slow probe interval used for inactive stations.
func (s *StationSettings) RecoveryPeriod() time.Duration {
	return time.Duration(s.RecoveryInterval) * time.Second
}

// ShutdownGracePeriod returns the graceful shutdown budget as a duration.
func (s *StationSettings) ShutdownGracePeriod() time.Duration {
	return time.Duration(s.ShutdownGrace) * time.Second
}

// SilencePeriod returns the non-music run that ends a play as a duration.
func (d *DetectionSettings) SilencePeriod() time.Duration {
	return time.Duration(d.SilenceDuration * float64(time.Second))
}
