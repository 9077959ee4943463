// Package config loads weatherlanding settings. Environment variables
// override the YAML file, which overrides built-in defaults.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/lox/weatherlanding/internal/geocode"
	"github.com/lox/weatherlanding/internal/httputil"
	"github.com/lox/weatherlanding/internal/ingest"
	"github.com/lox/weatherlanding/internal/notify"
	"github.com/lox/weatherlanding/internal/scheduler"
	"github.com/lox/weatherlanding/internal/sink"
)

// EnvPrefix namespaces environment overrides: sink.backend is read from
// WEATHERLANDING_SINK_BACKEND.
const (
	EnvPrefix = "WEATHERLANDING"

	DefaultRawRetentionDays = 30
)

type Config struct {
	Location   string           `mapstructure:"location"`
	Timezone   string           `mapstructure:"timezone"`
	Geocode    EndpointConfig   `mapstructure:"geocode"`
	Weather    EndpointConfig   `mapstructure:"weather"`
	AirQuality AirQualityConfig `mapstructure:"air_quality"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Containers ContainersConfig `mapstructure:"containers"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Store      StoreConfig      `mapstructure:"store"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type AirQualityConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// The air_pollution response has no timezone field, so its local time
	// is derived from this fixed offset.
	UTCOffsetSeconds int64 `mapstructure:"utc_offset_seconds"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Failures    uint32        `mapstructure:"failures"`
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SinkConfig struct {
	Backend string    `mapstructure:"backend"`
	S3      S3Config  `mapstructure:"s3"`
	GCS     GCSConfig `mapstructure:"gcs"`
	FTP     FTPConfig `mapstructure:"ftp"`
}

type S3Config struct {
	Region string `mapstructure:"region"`
}

type GCSConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Location  string `mapstructure:"location"`
}

type FTPConfig struct {
	Addr     string `mapstructure:"addr"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Root     string `mapstructure:"root"`
}

type ContainersConfig struct {
	Weather    string `mapstructure:"weather"`
	AirQuality string `mapstructure:"air_quality"`
}

type ScheduleConfig struct {
	Cron       string        `mapstructure:"cron"`
	Retries    uint64        `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type NotifyConfig struct {
	Backend string    `mapstructure:"backend"`
	Region  string    `mapstructure:"region"`
	SNS     SNSConfig `mapstructure:"sns"`
	SES     SESConfig `mapstructure:"ses"`
}

type SNSConfig struct {
	TopicARN string `mapstructure:"topic_arn"`
}

type SESConfig struct {
	From string   `mapstructure:"from"`
	To   []string `mapstructure:"to"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
	// RawRetentionDays bounds the raw payload archive. Zero keeps
	// everything.
	RawRetentionDays int `mapstructure:"raw_retention_days"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so AutomaticEnv can override it even when
// the config file does not mention it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("location", "1600 Amphitheatre Parkway")
	v.SetDefault("timezone", "UTC")

	v.SetDefault("geocode.base_url", geocode.DefaultBaseURL)
	v.SetDefault("weather.base_url", ingest.DefaultWeatherURL)
	v.SetDefault("air_quality.base_url", ingest.DefaultAirQualityURL)
	v.SetDefault("air_quality.utc_offset_seconds", ingest.DefaultAirQualityOffset)

	v.SetDefault("http.timeout", httputil.DefaultTimeout)
	v.SetDefault("http.breaker.failures", 5)
	v.SetDefault("http.breaker.max_requests", 1)
	v.SetDefault("http.breaker.interval", time.Minute)
	v.SetDefault("http.breaker.timeout", 30*time.Second)

	v.SetDefault("sink.backend", sink.BackendS3)
	v.SetDefault("sink.s3.region", "us-east-2")
	v.SetDefault("sink.gcs.project_id", "")
	v.SetDefault("sink.gcs.location", "US")
	v.SetDefault("sink.ftp.addr", "")
	v.SetDefault("sink.ftp.user", "")
	v.SetDefault("sink.ftp.password", "")
	v.SetDefault("sink.ftp.root", "/")

	v.SetDefault("containers.weather", "weather-data-landing-bucket")
	v.SetDefault("containers.air_quality", "aqi-data-landing-bucket")

	v.SetDefault("schedule.cron", scheduler.DefaultSpec)
	v.SetDefault("schedule.retries", scheduler.DefaultRetries)
	v.SetDefault("schedule.retry_delay", scheduler.DefaultRetryDelay)

	v.SetDefault("notify.backend", notify.BackendLog)
	v.SetDefault("notify.region", "us-east-2")
	v.SetDefault("notify.sns.topic_arn", "")
	v.SetDefault("notify.ses.from", "")
	v.SetDefault("notify.ses.to", []string{})

	v.SetDefault("store.path", "data/weatherlanding.db")
	v.SetDefault("store.raw_retention_days", DefaultRawRetentionDays)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// New returns a viper instance with defaults and environment overrides
// wired up. path may be empty, in which case ./config.yaml is used if it
// exists.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return v, nil
}

// Load reads, decodes and validates the configuration.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Location) == "" {
		return errors.New("location is required")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}

	switch c.Sink.Backend {
	case sink.BackendS3, sink.BackendMemory:
	case sink.BackendGCS:
		if c.Sink.GCS.ProjectID == "" {
			return errors.New("sink.gcs.project_id is required for the gcs backend")
		}
	case sink.BackendFTP:
		if c.Sink.FTP.Addr == "" {
			return errors.New("sink.ftp.addr is required for the ftp backend")
		}
	default:
		return errors.Newf("unknown sink.backend %q", c.Sink.Backend)
	}

	if c.Containers.Weather == "" || c.Containers.AirQuality == "" {
		return errors.New("containers.weather and containers.air_quality are required")
	}
	if c.Containers.Weather == c.Containers.AirQuality {
		return errors.Newf("containers must differ, both are %q", c.Containers.Weather)
	}

	switch c.Notify.Backend {
	case notify.BackendLog:
	case notify.BackendSNS:
		if c.Notify.SNS.TopicARN == "" {
			return errors.New("notify.sns.topic_arn is required for the sns backend")
		}
	case notify.BackendSES:
		if c.Notify.SES.From == "" || len(c.Notify.SES.To) == 0 {
			return errors.New("notify.ses.from and notify.ses.to are required for the ses backend")
		}
	default:
		return errors.Newf("unknown notify.backend %q", c.Notify.Backend)
	}

	if c.Schedule.RetryDelay < 0 {
		return errors.New("schedule.retry_delay must not be negative")
	}
	if c.Store.RawRetentionDays < 0 {
		return errors.New("store.raw_retention_days must not be negative")
	}
	return nil
}

// TimeLocation resolves Timezone.
func (c *Config) TimeLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}

func (c *Config) SinkOptions() sink.Options {
	return sink.Options{
		Backend:      c.Sink.Backend,
		S3Region:     c.Sink.S3.Region,
		GCSProjectID: c.Sink.GCS.ProjectID,
		GCSLocation:  c.Sink.GCS.Location,
		FTPAddr:      c.Sink.FTP.Addr,
		FTPUser:      c.Sink.FTP.User,
		FTPPassword:  c.Sink.FTP.Password,
		FTPRoot:      c.Sink.FTP.Root,
	}
}

func (c *Config) NotifyOptions() notify.Options {
	return notify.Options{
		Backend:  c.Notify.Backend,
		Region:   c.Notify.Region,
		TopicARN: c.Notify.SNS.TopicARN,
		From:     c.Notify.SES.From,
		To:       c.Notify.SES.To,
	}
}

func (c *Config) BreakerSettings() httputil.BreakerSettings {
	return httputil.BreakerSettings{
		Failures:    c.HTTP.Breaker.Failures,
		MaxRequests: c.HTTP.Breaker.MaxRequests,
		Interval:    c.HTTP.Breaker.Interval,
		Timeout:     c.HTTP.Breaker.Timeout,
	}
}

func (c *Config) SchedulerConfig(loc *time.Location) scheduler.Config {
	return scheduler.Config{
		Spec:       c.Schedule.Cron,
		Retries:    c.Schedule.Retries,
		RetryDelay: c.Schedule.RetryDelay,
		Location:   loc,
	}
}
