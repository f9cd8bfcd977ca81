package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration, loaded from TUTOR_* environment
// variables and an optional env file named by TUTOR_ENV_PATH.
type Config struct {
	// Analysis backend
	APIURL      string        `mapstructure:"api_url" validate:"required,url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`

	// Daemon
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	DataDir  string `mapstructure:"data_dir" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log_file"` // empty = stderr only
	DevMode  bool   `mapstructure:"dev_mode"`

	// Capture
	MicDevice  string `mapstructure:"mic_device"` // SDL device name, empty = system default
	SampleRate int    `mapstructure:"sample_rate" validate:"oneof=8000 12000 16000 24000 48000"`
	Encoder    string `mapstructure:"encoder" validate:"oneof=wav opus"`

	// Visualization
	FFTSize       int `mapstructure:"fft_size" validate:"min=32,max=32768"`
	ParticleCount int `mapstructure:"particle_count" validate:"min=2"`
	FrameRate     int `mapstructure:"frame_rate" validate:"min=1,max=240"`

	// Scrubbing
	SeekDeadband float64 `mapstructure:"seek_deadband" validate:"gt=0"` // seconds
}

// Load reads configuration from the environment with sane defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("TUTOR_ENV_PATH"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read env file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("TUTOR")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	if cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return Config{}, fmt.Errorf("validate config: fft_size %d is not a power of two", cfg.FFTSize)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "https://music-tutor-app.onrender.com")
	v.SetDefault("http_timeout", 60*time.Second)

	v.SetDefault("port", 8765)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("dev_mode", false)

	v.SetDefault("mic_device", "")
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("encoder", "wav")

	v.SetDefault("fft_size", 256)
	v.SetDefault("particle_count", 800)
	v.SetDefault("frame_rate", 60)

	v.SetDefault("seek_deadband", 0.1)
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tutor"
	}
	return dir + string(os.PathSeparator) + "music-tutor"
}
