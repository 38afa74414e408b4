package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/raptorhab/internal/flight"
	"github.com/banshee-data/raptorhab/internal/imaging"
	"github.com/banshee-data/raptorhab/internal/predict"
	"github.com/banshee-data/raptorhab/internal/protocol"
	"github.com/banshee-data/raptorhab/internal/serialmux"
	"github.com/banshee-data/raptorhab/internal/session"
	"github.com/banshee-data/raptorhab/internal/wind"
)

// DefaultConfigPath is the path to the canonical ground station defaults.
const DefaultConfigPath = "config/groundstation.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the ground station configuration. Every field is optional: a
// nil pointer means "use the default", which the Get* accessors supply, so
// partial files are safe.
type Config struct {
	Listen       *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	HealthListen *string `json:"health_listen,omitempty" yaml:"health_listen,omitempty"`

	Serial     SerialConfig     `json:"serial" yaml:"serial"`
	Modem      ModemConfig      `json:"modem" yaml:"modem"`
	Prediction PredictionConfig `json:"prediction" yaml:"prediction"`
	Burst      BurstConfig      `json:"burst" yaml:"burst"`
	Images     ImagesConfig     `json:"images" yaml:"images"`
	Wind       WindConfig       `json:"wind" yaml:"wind"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Session    SessionConfig    `json:"session" yaml:"session"`
}

// SerialConfig selects and parameterises the modem port.
type SerialConfig struct {
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"`
}

// ModemConfig holds the radio parameters sent as the CFG command.
type ModemConfig struct {
	FrequencyMHz *float64 `json:"frequency_mhz,omitempty" yaml:"frequency_mhz,omitempty"`
	BitrateKbps  *float64 `json:"bitrate_kbps,omitempty" yaml:"bitrate_kbps,omitempty"`
	DeviationKHz *float64 `json:"deviation_khz,omitempty" yaml:"deviation_khz,omitempty"`
	BandwidthKHz *float64 `json:"bandwidth_khz,omitempty" yaml:"bandwidth_khz,omitempty"`
	PreambleBits *int     `json:"preamble_bits,omitempty" yaml:"preamble_bits,omitempty"`
}

// PredictionConfig tunes the landing predictor.
type PredictionConfig struct {
	BurstAltitude        *float64 `json:"burst_altitude,omitempty" yaml:"burst_altitude,omitempty"`
	AscentRate           *float64 `json:"ascent_rate,omitempty" yaml:"ascent_rate,omitempty"`
	DescentRateAtBurst   *float64 `json:"descent_rate_at_burst,omitempty" yaml:"descent_rate_at_burst,omitempty"`
	DescentRateAtLanding *float64 `json:"descent_rate_at_landing,omitempty" yaml:"descent_rate_at_landing,omitempty"`
	DescentRateOverride  *float64 `json:"descent_rate_override,omitempty" yaml:"descent_rate_override,omitempty"`
	TargetAltitude       *float64 `json:"target_altitude,omitempty" yaml:"target_altitude,omitempty"`
	StepSeconds          *float64 `json:"step_seconds,omitempty" yaml:"step_seconds,omitempty"`
	MaxSeconds           *float64 `json:"max_seconds,omitempty" yaml:"max_seconds,omitempty"`
	UseWindProfile       *bool    `json:"use_wind_profile,omitempty" yaml:"use_wind_profile,omitempty"`
	UseAutoWind          *bool    `json:"use_auto_wind,omitempty" yaml:"use_auto_wind,omitempty"`
	ManualWindSpeed      *float64 `json:"manual_wind_speed,omitempty" yaml:"manual_wind_speed,omitempty"`
	ManualWindFrom       *float64 `json:"manual_wind_from,omitempty" yaml:"manual_wind_from,omitempty"`
	History              *int     `json:"history,omitempty" yaml:"history,omitempty"`
}

// BurstConfig tunes the burst detector.
type BurstConfig struct {
	Threshold           *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	ConfirmationSamples *int     `json:"confirmation_samples,omitempty" yaml:"confirmation_samples,omitempty"`
	MinAltitude         *float64 `json:"min_altitude,omitempty" yaml:"min_altitude,omitempty"`
}

// ImagesConfig controls image reassembly and storage.
type ImagesConfig struct {
	MismatchPolicy *string `json:"mismatch_policy,omitempty" yaml:"mismatch_policy,omitempty"`
	Dir            *string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// WindConfig controls the wind forecast fetch.
type WindConfig struct {
	Enabled       *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ProviderURL   *string `json:"provider_url,omitempty" yaml:"provider_url,omitempty"`
	RetryInterval *string `json:"retry_interval,omitempty" yaml:"retry_interval,omitempty"` // duration string like "5m"
	MaxAge        *string `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	FetchTimeout  *string `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
}

// StorageConfig locates the flight recorder database.
type StorageConfig struct {
	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// SessionConfig sizes the in-memory per-flight buffers.
type SessionConfig struct {
	HistoryCapacity   *int    `json:"history_capacity,omitempty" yaml:"history_capacity,omitempty"`
	MessageCapacity   *int    `json:"message_capacity,omitempty" yaml:"message_capacity,omitempty"`
	InactivityTimeout *string `json:"inactivity_timeout,omitempty" yaml:"inactivity_timeout,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultConfig returns a Config with every field populated, matching the
// values the Get* accessors fall back to.
func DefaultConfig() *Config {
	m := protocol.DefaultModemSettings()
	p := predict.DefaultConfig()
	b := flight.DefaultBurstConfig()
	s := session.DefaultConfig()
	return &Config{
		Listen:       ptrString(":8080"),
		HealthListen: ptrString(":50051"),
		Serial: SerialConfig{
			Port:     ptrString("/dev/ttyACM0"),
			BaudRate: ptrInt(serialmux.DefaultBaudRate),
			DataBits: ptrInt(8),
			StopBits: ptrInt(1),
			Parity:   ptrString("N"),
		},
		Modem: ModemConfig{
			FrequencyMHz: ptrFloat64(m.FrequencyMHz),
			BitrateKbps:  ptrFloat64(m.BitrateKbps),
			DeviationKHz: ptrFloat64(m.DeviationKHz),
			BandwidthKHz: ptrFloat64(m.BandwidthKHz),
			PreambleBits: ptrInt(m.PreambleBits),
		},
		Prediction: PredictionConfig{
			BurstAltitude:        ptrFloat64(p.BurstAltitude),
			AscentRate:           ptrFloat64(p.AscentRate),
			DescentRateAtBurst:   ptrFloat64(p.DescentRateAtBurst),
			DescentRateAtLanding: ptrFloat64(p.DescentRateAtLanding),
			DescentRateOverride:  ptrFloat64(p.DescentRateOverride),
			TargetAltitude:       ptrFloat64(p.TargetAltitude),
			StepSeconds:          ptrFloat64(p.StepSeconds),
			MaxSeconds:           ptrFloat64(p.MaxSeconds),
			UseWindProfile:       ptrBool(p.UseWindProfile),
			UseAutoWind:          ptrBool(p.UseAutoWind),
			ManualWindSpeed:      ptrFloat64(p.ManualWindSpeed),
			ManualWindFrom:       ptrFloat64(p.ManualWindFrom),
			History:              ptrInt(p.History),
		},
		Burst: BurstConfig{
			Threshold:           ptrFloat64(b.Threshold),
			ConfirmationSamples: ptrInt(b.ConfirmationSamples),
			MinAltitude:         ptrFloat64(b.MinAltitude),
		},
		Images: ImagesConfig{
			MismatchPolicy: ptrString(imaging.Hold.String()),
			Dir:            ptrString("images"),
		},
		Wind: WindConfig{
			Enabled:       ptrBool(true),
			ProviderURL:   ptrString(wind.DefaultOpenMeteoURL),
			RetryInterval: ptrString(wind.DefaultRetryInterval.String()),
			MaxAge:        ptrString(wind.MaxAge.String()),
			FetchTimeout:  ptrString("30s"),
		},
		Storage: StorageConfig{DBPath: ptrString("raptorhab.db")},
		Session: SessionConfig{
			HistoryCapacity:   ptrInt(s.HistoryCapacity),
			MessageCapacity:   ptrInt(s.MessageCapacity),
			InactivityTimeout: ptrString(session.DefaultInactivityTimeout.String()),
		},
	}
}

// Load reads a configuration file. The format follows the extension:
// .json, or .yaml/.yml. ${VAR} references are expanded from the
// environment before parsing.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.PortOptions().Normalize(); err != nil {
		errs = append(errs, fmt.Errorf("serial: %w", err))
	}

	m := c.ModemSettings()
	if m.FrequencyMHz <= 0 || m.BitrateKbps <= 0 || m.DeviationKHz <= 0 || m.BandwidthKHz <= 0 {
		errs = append(errs, fmt.Errorf("modem: frequency, bitrate, deviation and bandwidth must be positive"))
	}
	if m.PreambleBits < 0 {
		errs = append(errs, fmt.Errorf("modem: preamble_bits must be non-negative, got %d", m.PreambleBits))
	}

	if err := c.PredictConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("prediction: %w", err))
	}

	if c.Burst.Threshold != nil && *c.Burst.Threshold >= 0 {
		errs = append(errs, fmt.Errorf("burst: threshold must be negative, got %g", *c.Burst.Threshold))
	}
	if c.Burst.ConfirmationSamples != nil && *c.Burst.ConfirmationSamples < 1 {
		errs = append(errs, fmt.Errorf("burst: confirmation_samples must be at least 1, got %d", *c.Burst.ConfirmationSamples))
	}

	if c.Images.MismatchPolicy != nil {
		if _, err := imaging.ParseMismatchPolicy(*c.Images.MismatchPolicy); err != nil {
			errs = append(errs, fmt.Errorf("images: %w", err))
		}
	}

	for name, v := range map[string]*string{
		"wind.retry_interval":        c.Wind.RetryInterval,
		"wind.max_age":               c.Wind.MaxAge,
		"wind.fetch_timeout":         c.Wind.FetchTimeout,
		"session.inactivity_timeout": c.Session.InactivityTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		if d, err := time.ParseDuration(*v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s '%s': %w", name, *v, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, *v))
		}
	}

	if c.Session.HistoryCapacity != nil && *c.Session.HistoryCapacity < 10 {
		errs = append(errs, fmt.Errorf("session: history_capacity must be at least 10, got %d", *c.Session.HistoryCapacity))
	}

	return errors.Join(errs...)
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// getDuration parses p, falling back to def when unset or invalid.
func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string { return getString(c.Listen, ":8080") }

// GetHealthListen returns the gRPC health listen address; empty disables it.
func (c *Config) GetHealthListen() string {
	if c.HealthListen == nil {
		return ":50051"
	}
	return *c.HealthListen
}

// GetSerialPort returns the modem device path.
func (c *Config) GetSerialPort() string { return getString(c.Serial.Port, "/dev/ttyACM0") }

// PortOptions returns the serial line settings; Normalize fills the rest.
func (c *Config) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{
		BaudRate: getInt(c.Serial.BaudRate, serialmux.DefaultBaudRate),
		DataBits: getInt(c.Serial.DataBits, 8),
		StopBits: getInt(c.Serial.StopBits, 1),
		Parity:   getString(c.Serial.Parity, "N"),
	}
}

// ModemSettings returns the radio configuration.
func (c *Config) ModemSettings() protocol.ModemSettings {
	d := protocol.DefaultModemSettings()
	return protocol.ModemSettings{
		FrequencyMHz: getFloat(c.Modem.FrequencyMHz, d.FrequencyMHz),
		BitrateKbps:  getFloat(c.Modem.BitrateKbps, d.BitrateKbps),
		DeviationKHz: getFloat(c.Modem.DeviationKHz, d.DeviationKHz),
		BandwidthKHz: getFloat(c.Modem.BandwidthKHz, d.BandwidthKHz),
		PreambleBits: getInt(c.Modem.PreambleBits, d.PreambleBits),
	}
}

// PredictConfig returns the predictor settings.
func (c *Config) PredictConfig() predict.Config {
	p := c.Prediction
	d := predict.DefaultConfig()
	d.BurstAltitude = getFloat(p.BurstAltitude, d.BurstAltitude)
	d.AscentRate = getFloat(p.AscentRate, d.AscentRate)
	d.DescentRateAtBurst = getFloat(p.DescentRateAtBurst, d.DescentRateAtBurst)
	d.DescentRateAtLanding = getFloat(p.DescentRateAtLanding, d.DescentRateAtLanding)
	d.DescentRateOverride = getFloat(p.DescentRateOverride, d.DescentRateOverride)
	d.TargetAltitude = getFloat(p.TargetAltitude, d.TargetAltitude)
	d.StepSeconds = getFloat(p.StepSeconds, d.StepSeconds)
	d.MaxSeconds = getFloat(p.MaxSeconds, d.MaxSeconds)
	d.UseWindProfile = getBool(p.UseWindProfile, d.UseWindProfile)
	d.UseAutoWind = getBool(p.UseAutoWind, d.UseAutoWind)
	d.ManualWindSpeed = getFloat(p.ManualWindSpeed, d.ManualWindSpeed)
	d.ManualWindFrom = getFloat(p.ManualWindFrom, d.ManualWindFrom)
	d.History = getInt(p.History, d.History)
	d.WindMaxAge = c.GetWindMaxAge()
	return d
}

// BurstConfig returns the burst detector settings.
func (c *Config) BurstConfig() flight.BurstConfig {
	d := flight.DefaultBurstConfig()
	d.Threshold = getFloat(c.Burst.Threshold, d.Threshold)
	d.ConfirmationSamples = getInt(c.Burst.ConfirmationSamples, d.ConfirmationSamples)
	d.MinAltitude = getFloat(c.Burst.MinAltitude, d.MinAltitude)
	return d
}

// GetMismatchPolicy returns the image CRC mismatch policy.
func (c *Config) GetMismatchPolicy() imaging.MismatchPolicy {
	p, err := imaging.ParseMismatchPolicy(getString(c.Images.MismatchPolicy, "hold"))
	if err != nil {
		return imaging.Hold
	}
	return p
}

// GetImageDir returns where completed images are written; empty disables
// writing them to disk.
func (c *Config) GetImageDir() string {
	if c.Images.Dir == nil {
		return "images"
	}
	return *c.Images.Dir
}

// GetWindEnabled reports whether forecasts are fetched.
func (c *Config) GetWindEnabled() bool { return getBool(c.Wind.Enabled, true) }

// GetWindProviderURL returns the forecast endpoint.
func (c *Config) GetWindProviderURL() string {
	return getString(c.Wind.ProviderURL, wind.DefaultOpenMeteoURL)
}

// GetWindRetryInterval returns the minimum gap between fetch attempts.
func (c *Config) GetWindRetryInterval() time.Duration {
	return getDuration(c.Wind.RetryInterval, wind.DefaultRetryInterval)
}

// GetWindMaxAge returns how long a profile stays usable.
func (c *Config) GetWindMaxAge() time.Duration { return getDuration(c.Wind.MaxAge, wind.MaxAge) }

// GetWindFetchTimeout bounds one forecast request.
func (c *Config) GetWindFetchTimeout() time.Duration {
	return getDuration(c.Wind.FetchTimeout, 30*time.Second)
}

// GetDBPath returns the flight recorder database path.
func (c *Config) GetDBPath() string { return getString(c.Storage.DBPath, "raptorhab.db") }

// GetInactivityTimeout returns how long without packets before the link
// is reported silent.
func (c *Config) GetInactivityTimeout() time.Duration {
	return getDuration(c.Session.InactivityTimeout, session.DefaultInactivityTimeout)
}

// SessionConfig assembles the session settings from every section.
func (c *Config) SessionConfig() session.Config {
	d := session.DefaultConfig()
	d.HistoryCapacity = getInt(c.Session.HistoryCapacity, d.HistoryCapacity)
	d.MessageCapacity = getInt(c.Session.MessageCapacity, d.MessageCapacity)
	d.Burst = c.BurstConfig()
	d.Predict = c.PredictConfig()
	d.ImagePolicy = c.GetMismatchPolicy()
	return d
}
