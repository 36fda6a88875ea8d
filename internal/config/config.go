// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/qrsdetect/internal/qrs"
	"github.com/ColonelBlimp/qrsdetect/internal/rhythm"
)

const (
	AppName       = "qrsdetect"
	ConfigType    = "yaml"
	DefaultConfig = `# QRS Detector Configuration

# Detector
sampling_rate: 250      # Detector input rate in Hz
window_size: 38         # Integration window in samples (~150 ms at 250 Hz)
mode: "streaming"       # streaming = incremental filters, window = re-filter the window each sample
history_size: 64        # Inter-beat intervals kept for SDNN/RMSSD

# NATS
nats_url: "nats://127.0.0.1:4222"
wave_subject: "ecg.wave"    # Samples arrive on <wave_subject>.<source>
beat_subject: "ecg.beats"   # Beats are published on <beat_subject>.<source>
session_timeout: "2m"       # Release a source after this much silence

# Live server
http_addr: ":8080"

# Audio line-in
device_index: -1        # -1 for default device
capture_rate: 8000      # Sound card rate in Hz, resampled to sampling_rate
record_path: ""         # Write raw capture to this WAV file when set
mains_frequency: 50     # 50 or 60 Hz
hum_threshold: 0.3      # Warn when the mains share of the signal exceeds this (0.0-1.0)

# Bluetooth chest strap
ble_name: "Polar"       # Connect to the first device whose name starts with this

# Simulator
sim_heart_rate: 72      # Beats per minute
sim_noise: 0.02         # Peak noise amplitude in mV
sim_batch: 10           # Samples per published message

# Output
log_level: "info"       # trace, debug, info, warn, error
debug: false            # Shortcut for log_level debug
`
)

// Settings holds all application configuration
type Settings struct {
	// Detector
	SamplingRate float64 `mapstructure:"sampling_rate"`
	WindowSize   int     `mapstructure:"window_size"`
	Mode         string  `mapstructure:"mode"`
	HistorySize  int     `mapstructure:"history_size"`

	// NATS
	NATSURL        string        `mapstructure:"nats_url"`
	WaveSubject    string        `mapstructure:"wave_subject"`
	BeatSubject    string        `mapstructure:"beat_subject"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// Live server
	HTTPAddr string `mapstructure:"http_addr"`

	// Audio line-in
	DeviceIndex    int     `mapstructure:"device_index"`
	CaptureRate    float64 `mapstructure:"capture_rate"`
	RecordPath     string  `mapstructure:"record_path"`
	MainsFrequency float64 `mapstructure:"mains_frequency"`
	HumThreshold   float64 `mapstructure:"hum_threshold"`

	// Bluetooth
	BLEName string `mapstructure:"ble_name"`

	// Simulator
	SimHeartRate float64 `mapstructure:"sim_heart_rate"`
	SimNoise     float64 `mapstructure:"sim_noise"`
	SimBatch     int     `mapstructure:"sim_batch"`

	// Output
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/qrsdetect/
func Init() error {
	viper.SetDefault("sampling_rate", 250)
	viper.SetDefault("window_size", 38)
	viper.SetDefault("mode", "streaming")
	viper.SetDefault("history_size", 64)
	viper.SetDefault("nats_url", "nats://127.0.0.1:4222")
	viper.SetDefault("wave_subject", "ecg.wave")
	viper.SetDefault("beat_subject", "ecg.beats")
	viper.SetDefault("session_timeout", "2m")
	viper.SetDefault("http_addr", ":8080")
	viper.SetDefault("device_index", -1)
	viper.SetDefault("capture_rate", 8000)
	viper.SetDefault("record_path", "")
	viper.SetDefault("mains_frequency", 50)
	viper.SetDefault("hum_threshold", 0.3)
	viper.SetDefault("ble_name", "Polar")
	viper.SetDefault("sim_heart_rate", 72)
	viper.SetDefault("sim_noise", 0.02)
	viper.SetDefault("sim_batch", 10)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		// No config found - create default in ~/.config/qrsdetect/
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Detector
	if s.SamplingRate < 50 || s.SamplingRate > 2000 {
		errs = append(errs, fmt.Errorf("sampling_rate must be between 50 and 2000 Hz, got %v", s.SamplingRate))
	}
	if s.WindowSize < 1 || s.WindowSize > 1000 {
		errs = append(errs, fmt.Errorf("window_size must be between 1 and 1000, got %d", s.WindowSize))
	}
	if _, err := qrs.ParseMode(s.Mode); err != nil {
		errs = append(errs, fmt.Errorf("mode must be streaming or window, got %q", s.Mode))
	}
	if s.HistorySize < 8 || s.HistorySize > 4096 {
		errs = append(errs, fmt.Errorf("history_size must be between 8 and 4096, got %d", s.HistorySize))
	}

	// NATS
	if s.NATSURL == "" {
		errs = append(errs, errors.New("nats_url must not be empty"))
	}
	if s.WaveSubject == "" {
		errs = append(errs, errors.New("wave_subject must not be empty"))
	}
	if s.BeatSubject == "" {
		errs = append(errs, errors.New("beat_subject must not be empty"))
	}
	if s.WaveSubject != "" && s.WaveSubject == s.BeatSubject {
		errs = append(errs, fmt.Errorf("wave_subject and beat_subject must differ, both %q", s.WaveSubject))
	}
	if s.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session_timeout must be positive, got %v", s.SessionTimeout))
	}

	// Audio line-in
	if s.CaptureRate < 8000 || s.CaptureRate > 192000 {
		errs = append(errs, fmt.Errorf("capture_rate must be between 8000 and 192000 Hz, got %v", s.CaptureRate))
	}
	if s.CaptureRate < s.SamplingRate {
		errs = append(errs, fmt.Errorf("capture_rate (%v Hz) must not be below sampling_rate (%v Hz)", s.CaptureRate, s.SamplingRate))
	}
	if s.MainsFrequency != 50 && s.MainsFrequency != 60 {
		errs = append(errs, fmt.Errorf("mains_frequency must be 50 or 60 Hz, got %v", s.MainsFrequency))
	}
	// Nyquist check: the hum bin must be below half the capture rate
	if s.MainsFrequency >= s.CaptureRate/2 {
		errs = append(errs, fmt.Errorf("mains_frequency (%v Hz) must be less than Nyquist frequency (%v Hz)", s.MainsFrequency, s.CaptureRate/2))
	}
	if s.HumThreshold < 0.0 || s.HumThreshold > 1.0 {
		errs = append(errs, fmt.Errorf("hum_threshold must be between 0.0 and 1.0, got %v", s.HumThreshold))
	}

	// Simulator
	if s.SimHeartRate <= qrs.MinBPM || s.SimHeartRate >= qrs.MaxBPM {
		errs = append(errs, fmt.Errorf("sim_heart_rate must be between %d and %d exclusive, got %v", qrs.MinBPM, qrs.MaxBPM, s.SimHeartRate))
	}
	if s.SimNoise < 0 || s.SimNoise > 1 {
		errs = append(errs, fmt.Errorf("sim_noise must be between 0 and 1, got %v", s.SimNoise))
	}
	if s.SimBatch < 1 || s.SimBatch > 4096 {
		errs = append(errs, fmt.Errorf("sim_batch must be between 1 and 4096, got %d", s.SimBatch))
	}

	// Output
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Detector returns the detector configuration.
func (s *Settings) Detector() qrs.Config {
	// Validate has already rejected unknown modes
	mode, _ := qrs.ParseMode(s.Mode)
	return qrs.Config{
		SamplingRate: s.SamplingRate,
		WindowSize:   s.WindowSize,
		Mode:         mode,
	}
}

// Rhythm returns the rhythm tracker configuration.
func (s *Settings) Rhythm() rhythm.Config {
	return rhythm.Config{
		SamplingRate: s.SamplingRate,
		HistorySize:  s.HistorySize,
		Smoothing:    rhythm.DefaultSmoothing,
	}
}

// Level returns the effective log level. Debug overrides log_level.
func (s *Settings) Level() logrus.Level {
	if s.Debug {
		return logrus.DebugLevel
	}
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
