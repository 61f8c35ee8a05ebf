package config

import (
	"context"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "ANGLEPUB"
	DefaultConfigPath = "/etc/anglepub.toml"
	DefaultLogLevel   = "info"

	defaultFrequency      = 70.0
	defaultAddress        = 0x48
	defaultTopic          = "/drone/angles"
	defaultFrameID        = "base_link"
	defaultListen         = ":8080"
	defaultMQTTBroker     = "tcp://localhost:1883"
	defaultConnectTimeout = 5 * time.Second
	defaultDBPath         = "/var/lib/anglepub/samples.db"
	defaultBatchSize      = 100
	defaultBatchTimeout   = 5

	maxChannel = 3
	maxQoS     = 2
)

type Config struct {
	Frequency         float64       `mapstructure:"frequency"`
	FastMode          bool          `mapstructure:"fast_mode"`
	ReferenceConstant float64       `mapstructure:"reference_constant"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFile           string        `mapstructure:"log_file"`
	PIDFile           string        `mapstructure:"pid_file"`
	Device            DeviceConfig  `mapstructure:"device"`
	Publish           PublishConfig `mapstructure:"publish"`
	API               APIConfig     `mapstructure:"api"`
	MQTT              MQTTConfig    `mapstructure:"mqtt"`
	Metrics           MetricsConfig `mapstructure:"metrics"`

	// File is the configuration file that was read, empty if none.
	File string `mapstructure:"-"`

	v *viper.Viper
}

type DeviceConfig struct {
	Bus              string `mapstructure:"bus"`
	Address          int    `mapstructure:"address"`
	Simulate         bool   `mapstructure:"simulate"`
	PrimaryChannel   int    `mapstructure:"primary_channel"`
	SecondaryChannel int    `mapstructure:"secondary_channel"`
	ReferenceChannel int    `mapstructure:"reference_channel"`
}

type PublishConfig struct {
	Topic   string `mapstructure:"topic"`
	FrameID string `mapstructure:"frame_id"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	Topic          string        `mapstructure:"topic"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            int           `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BackupDir    string `mapstructure:"backup_dir"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("frequency", defaultFrequency)
	v.SetDefault("fast_mode", false)
	v.SetDefault("reference_constant", 0.0)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("pid_file", "")

	v.SetDefault("device.bus", "")
	v.SetDefault("device.address", defaultAddress)
	v.SetDefault("device.simulate", false)
	v.SetDefault("device.primary_channel", 0)
	v.SetDefault("device.secondary_channel", 1)
	v.SetDefault("device.reference_channel", 2)

	v.SetDefault("publish.topic", defaultTopic)
	v.SetDefault("publish.frame_id", defaultFrameID)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", defaultListen)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", defaultMQTTBroker)
	v.SetDefault("mqtt.topic", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", true)
	v.SetDefault("mqtt.connect_timeout", defaultConnectTimeout)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db_path", defaultDBPath)
	v.SetDefault("metrics.backup_dir", "")
	v.SetDefault("metrics.batch_size", defaultBatchSize)
	v.SetDefault("metrics.batch_timeout", defaultBatchTimeout)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("anglepub", pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.Float64("frequency", defaultFrequency, "Sampling frequency in Hz")
	fs.Bool("fast-mode", false, "Skip the reference channel read")
	fs.Float64("reference-constant", 0, "Reference value published in fast mode")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write logs to this rotating file")
	fs.String("pid-file", "", "PID file location")
	fs.String("bus", "", "I2C bus name (empty selects the first bus)")
	fs.Bool("simulate", false, "Use a simulated ADC instead of hardware")
	fs.String("listen", defaultListen, "HTTP API listen address")
	fs.Bool("mqtt", false, "Forward samples to the MQTT broker")
	fs.String("mqtt-broker", defaultMQTTBroker, "MQTT broker URL")
	fs.Bool("metrics", false, "Record published samples to SQLite")
	fs.String("metrics-db", defaultDBPath, "SQLite sample history path")
	return fs
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"frequency":          "frequency",
	"fast-mode":          "fast_mode",
	"reference-constant": "reference_constant",
	"log-level":          "log_level",
	"log-file":           "log_file",
	"pid-file":           "pid_file",
	"bus":                "device.bus",
	"simulate":           "device.simulate",
	"listen":             "api.listen",
	"mqtt":               "mqtt.enabled",
	"mqtt-broker":        "mqtt.broker",
	"metrics":            "metrics.enabled",
	"metrics-db":         "metrics.db_path",
}

// Load builds the configuration from defaults, the TOML file, the
// environment and finally args, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit := resolvePath(o, fs)
	file, err := readFile(v, path, explicit)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.File = file
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func resolvePath(o options, fs *pflag.FlagSet) (string, bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if path, _ := fs.GetString("config"); path != "" {
		return path, true
	}
	if path := os.Getenv(o.envPrefix + "_CONFIG"); path != "" {
		return path, true
	}
	return DefaultConfigPath, false
}

// readFile reads path into v. A missing default file is not an error.
func readFile(v *viper.Viper, path string, explicit bool) (string, error) {
	errFactory := errors.New()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", errFactory.WithData(errors.ErrReadConfig, struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return "", errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return path, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !(c.Frequency > 0) || math.IsInf(c.Frequency, 1) {
		return errFactory.WithData(errors.ErrInvalidFrequency, c.Frequency)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	channels := map[string]int{
		"primary_channel":   c.Device.PrimaryChannel,
		"secondary_channel": c.Device.SecondaryChannel,
		"reference_channel": c.Device.ReferenceChannel,
	}
	seen := make(map[int]string, len(channels))
	for name, ch := range channels {
		if ch < 0 || ch > maxChannel {
			return errFactory.WithData(errors.ErrInvalidConfig, "device."+name+" must be between 0 and 3")
		}
		if other, ok := seen[ch]; ok {
			return errFactory.WithData(errors.ErrInvalidConfig, "device."+name+" duplicates device."+other)
		}
		seen[ch] = name
	}
	if c.Device.Address < 0 || c.Device.Address > 0x7f {
		return errFactory.WithData(errors.ErrInvalidConfig, "device.address must be a 7-bit I2C address")
	}

	if c.Publish.Topic == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "publish.topic must not be empty")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "api.listen must not be empty")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, "mqtt.broker must not be empty")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > maxQoS {
			return errFactory.WithData(errors.ErrInvalidConfig, "mqtt.qos must be 0, 1 or 2")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.DBPath == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, "metrics.db_path must not be empty")
		}
		if c.Metrics.BatchSize < 1 {
			return errFactory.WithData(errors.ErrInvalidConfig, "metrics.batch_size must be at least 1")
		}
		if c.Metrics.BatchTimeout < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, "metrics.batch_timeout must not be negative")
		}
	}

	return nil
}

// Changes reports which runtime-tunable settings differ in next.
func (c *Config) Changes(next *Config) ParameterChange {
	var change ParameterChange
	if next.Frequency != c.Frequency {
		f := next.Frequency
		change.Frequency = &f
	}
	if next.FastMode != c.FastMode {
		fast := next.FastMode
		change.FastMode = &fast
	}
	return change
}

// Watch calls onChange with the reloaded configuration whenever the
// configuration file is written. Reloads that fail to decode are passed to
// onError. Watch returns immediately; callbacks stop once ctx is done.
func (c *Config) Watch(ctx context.Context, onChange func(*Config), onError func(error)) error {
	errFactory := errors.New()

	if c.v == nil || c.File == "" {
		return errFactory.WithMessage(errors.ErrWatchConfig, "no configuration file to watch")
	}

	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		next := &Config{}
		if err := c.v.Unmarshal(next); err != nil {
			onError(errFactory.Wrap(errors.ErrWatchConfig, err))
			return
		}
		next.File = e.Name
		next.v = c.v
		onChange(next)
	})
	c.v.WatchConfig()

	return nil
}
