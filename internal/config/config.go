package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr = ":8001"

	defaultChannels = "sensor1,sensor2,sensor3,sensor4,dhttemp,dhthumidity"

	defaultSource       = "serial"
	defaultMaxAge       = 30 * time.Second
	defaultFastInterval = 5 * time.Second

	defaultUDPPort = ":12345"

	defaultDevice    = "/dev/ttyACM0"
	defaultDeviceTag = "agro"
	defaultBaudRate  = 9600

	defaultOneWireBus = ""

	defaultLocation        = "+08:00"
	defaultNTPServers      = "pool.ntp.org,time.nist.gov"
	defaultRequireNTP      = true
	defaultResyncInterval  = 12 * time.Hour
	defaultNTPMaxTries     = 20
	defaultNTPRetryDelay   = 500 * time.Millisecond
	defaultNTPQueryTimeout = 5 * time.Second
	defaultNTPSyncTimeout  = 10 * time.Second

	defaultTickInterval        = 200 * time.Millisecond
	defaultSampleInterval      = 10
	defaultSamplesPerPeriod    = 6
	defaultReportTriggerSecond = 5

	defaultReportURL      = "http://127.0.0.1:8002/exec"
	defaultReportTimeout  = 10 * time.Second
	defaultReportInsecure = false

	defaultEnableMQTT        = false
	defaultBroker            = "tcp://raspberrypi.local:1883"
	defaultClientID          = "agro-logger"
	defaultKeepAliveDuration = 2 * time.Second
	defaultPingTimeout       = 1 * time.Second
	defaultUsername          = ""
	defaultPassword          = ""
	defaultTopic             = "agro"

	defaultMetricsPushURL      = ""
	defaultMetricsPushInterval = 10 * time.Second

	defaultSheetAddr = ":8002"
	defaultSheetPath = "agro.csv"
)

var (
	ErrNoChannels       = errors.New("at least one channel is required")
	ErrDuplicateChannel = errors.New("duplicate channel")
	ErrSampleInterval   = errors.New("sample interval must divide 60 minutes")
	ErrSamplesPerPeriod = errors.New("samples per period must be positive and fit in one hour")
	ErrTriggerSecond    = errors.New("report trigger second must be in 1..59")
)

type Config struct {
	ShowVersion bool `yaml:"-"`
	Debug       bool `yaml:"debug"`

	Channels  []string  `yaml:"channels"`
	Source    Source    `yaml:"source"`
	Clock     Clock     `yaml:"clock"`
	Scheduler Scheduler `yaml:"scheduler"`
	Report    Report    `yaml:"report"`

	HTTPServer HTTPServer `yaml:"http"`
	MQTT       MQTT       `yaml:"mqtt"`
	Metrics    Metrics    `yaml:"metrics"`
	Sheet      Sheet      `yaml:"sheet"`
}

type HTTPServer struct {
	Addr string `yaml:"addr"`
}

// Source selects where readings come from. Kind is a comma separated list of
// serial, udp, onewire and sim; the first source reporting a channel owns it.
type Source struct {
	Kind         string        `yaml:"kind"`
	MaxAge       time.Duration `yaml:"max_age"`
	FastInterval time.Duration `yaml:"fast_interval"`
	UDP          UDPServer     `yaml:"udp"`
	Serial       Serial        `yaml:"serial"`
	OneWire      OneWire       `yaml:"onewire"`
}

type UDPServer struct {
	Port string `yaml:"port"`
}

type Serial struct {
	PortName string `yaml:"port"`
	BaudRate int    `yaml:"baud"`
	Tag      string `yaml:"tag"`
}

// OneWire maps channel names to DS18B20 ROM addresses written as hex,
// e.g. "023de10457958828".
type OneWire struct {
	Bus     string            `yaml:"bus"`
	Devices map[string]string `yaml:"devices"`
}

type Clock struct {
	Location       string        `yaml:"location"`
	Servers        []string      `yaml:"servers"`
	RequireNTP     bool          `yaml:"require_ntp"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
	MaxTries       int           `yaml:"max_tries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	SyncTimeout    time.Duration `yaml:"sync_timeout"`
}

type Scheduler struct {
	TickInterval        time.Duration `yaml:"tick_interval"`
	SampleInterval      int           `yaml:"sample_interval_minutes"`
	SamplesPerPeriod    int           `yaml:"samples_per_period"`
	ReportTriggerSecond int           `yaml:"report_trigger_second"`
}

type Report struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Insecure bool          `yaml:"insecure"`
}

type MQTT struct {
	Enable            bool          `yaml:"enable"`
	KeepAliveDuration time.Duration `yaml:"keep_alive"`
	Broker            string        `yaml:"broker"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	Topic             string        `yaml:"topic"`
}

type Metrics struct {
	PushURL      string        `yaml:"push_url"`
	PushInterval time.Duration `yaml:"push_interval"`
}

type Sheet struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Default returns the configuration used when no flag or file overrides it.
func Default() Config {
	return Config{
		Channels: splitList(defaultChannels),
		Source: Source{
			Kind:         defaultSource,
			MaxAge:       defaultMaxAge,
			FastInterval: defaultFastInterval,
			UDP:          UDPServer{Port: defaultUDPPort},
			Serial: Serial{
				PortName: defaultDevice,
				BaudRate: defaultBaudRate,
				Tag:      defaultDeviceTag,
			},
			OneWire: OneWire{Bus: defaultOneWireBus},
		},
		Clock: Clock{
			Location:       defaultLocation,
			Servers:        splitList(defaultNTPServers),
			RequireNTP:     defaultRequireNTP,
			ResyncInterval: defaultResyncInterval,
			MaxTries:       defaultNTPMaxTries,
			RetryDelay:     defaultNTPRetryDelay,
			QueryTimeout:   defaultNTPQueryTimeout,
			SyncTimeout:    defaultNTPSyncTimeout,
		},
		Scheduler: Scheduler{
			TickInterval:        defaultTickInterval,
			SampleInterval:      defaultSampleInterval,
			SamplesPerPeriod:    defaultSamplesPerPeriod,
			ReportTriggerSecond: defaultReportTriggerSecond,
		},
		Report: Report{
			URL:      defaultReportURL,
			Timeout:  defaultReportTimeout,
			Insecure: defaultReportInsecure,
		},
		HTTPServer: HTTPServer{Addr: defaultHTTPAddr},
		MQTT: MQTT{
			Enable:            defaultEnableMQTT,
			KeepAliveDuration: defaultKeepAliveDuration,
			Broker:            defaultBroker,
			ClientID:          defaultClientID,
			Username:          defaultUsername,
			Password:          defaultPassword,
			PingTimeout:       defaultPingTimeout,
			Topic:             defaultTopic,
		},
		Metrics: Metrics{
			PushURL:      defaultMetricsPushURL,
			PushInterval: defaultMetricsPushInterval,
		},
		Sheet: Sheet{
			Addr: defaultSheetAddr,
			Path: defaultSheetPath,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// FromFlags builds the configuration from a YAML file named by -config, if
// any, and then applies flags explicitly set on the command line.
func FromFlags() (Config, error) {
	return fromFlagSet(flag.CommandLine, os.Args[1:])
}

func fromFlagSet(fs *flag.FlagSet, args []string) (Config, error) {
	path := findConfigPath(args)

	cfg := Default()

	if path != "" {
		var err error

		cfg, err = Load(path)
		if err != nil {
			return cfg, err
		}
	}

	channels := strings.Join(cfg.Channels, ",")
	servers := strings.Join(cfg.Clock.Servers, ",")

	fs.String("config", path, "path to a YAML configuration file")

	fs.BoolVar(&cfg.ShowVersion, "app-version", false, "show version information")
	fs.BoolVar(&cfg.Debug, "app-debug", cfg.Debug, "enable debug mode")

	fs.StringVar(&channels, "channels", channels, "comma separated channel names in report order")

	fs.StringVar(&cfg.Source.Kind, "source", cfg.Source.Kind, "sensor sources: serial, udp, onewire, sim (comma separated)")
	fs.DurationVar(&cfg.Source.MaxAge, "source-max-age", cfg.Source.MaxAge, "readings older than this are missing")
	fs.DurationVar(&cfg.Source.FastInterval, "fast-interval", cfg.Source.FastInterval, "live telemetry read interval")
	fs.StringVar(&cfg.Source.UDP.Port, "udp-port", cfg.Source.UDP.Port, "UDP server port")
	fs.StringVar(&cfg.Source.Serial.PortName, "serial-port", cfg.Source.Serial.PortName, "serial device path (e.g., /dev/ttyUSB0)")
	fs.IntVar(&cfg.Source.Serial.BaudRate, "serial-baud", cfg.Source.Serial.BaudRate, "serial baud rate")
	fs.StringVar(&cfg.Source.Serial.Tag, "serial-tag", cfg.Source.Serial.Tag, "device tag identifier")
	fs.StringVar(&cfg.Source.OneWire.Bus, "onewire-bus", cfg.Source.OneWire.Bus, "1-Wire bus name, empty for the first one")

	fs.StringVar(&cfg.Clock.Location, "location", cfg.Clock.Location, "time zone used for alignment (Local, UTC, +08:00 or IANA name)")
	fs.StringVar(&servers, "ntp-servers", servers, "comma separated NTP servers")
	fs.BoolVar(&cfg.Clock.RequireNTP, "ntp-require", cfg.Clock.RequireNTP, "treat the clock as invalid until the first NTP sync")
	fs.DurationVar(&cfg.Clock.ResyncInterval, "ntp-resync", cfg.Clock.ResyncInterval, "NTP resync interval")
	fs.IntVar(&cfg.Clock.MaxTries, "ntp-tries", cfg.Clock.MaxTries, "NTP sync attempts per resync")
	fs.DurationVar(&cfg.Clock.RetryDelay, "ntp-retry-delay", cfg.Clock.RetryDelay, "delay between NTP sync attempts")
	fs.DurationVar(&cfg.Clock.SyncTimeout, "ntp-sync-timeout", cfg.Clock.SyncTimeout, "upper bound of one NTP resync, all attempts included")

	fs.DurationVar(&cfg.Scheduler.TickInterval, "tick", cfg.Scheduler.TickInterval, "scheduler tick interval")
	fs.IntVar(&cfg.Scheduler.SampleInterval, "sample-interval", cfg.Scheduler.SampleInterval, "sampling interval in minutes")
	fs.IntVar(&cfg.Scheduler.SamplesPerPeriod, "samples-per-period", cfg.Scheduler.SamplesPerPeriod, "window capacity")
	fs.IntVar(&cfg.Scheduler.ReportTriggerSecond, "report-second", cfg.Scheduler.ReportTriggerSecond, "second of hh:00 that triggers the report")

	fs.StringVar(&cfg.Report.URL, "report-url", cfg.Report.URL, "spreadsheet logger URL")
	fs.DurationVar(&cfg.Report.Timeout, "report-timeout", cfg.Report.Timeout, "report HTTP timeout")
	fs.BoolVar(&cfg.Report.Insecure, "report-insecure", cfg.Report.Insecure, "skip TLS verification for the report URL")

	fs.StringVar(&cfg.HTTPServer.Addr, "http-addr", cfg.HTTPServer.Addr, "HTTP server address")

	fs.BoolVar(&cfg.MQTT.Enable, "mqtt-enable", cfg.MQTT.Enable, "enable MQTT client")
	fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "MQTT broker URI")
	fs.StringVar(&cfg.MQTT.ClientID, "mqtt-client-id", cfg.MQTT.ClientID, "MQTT client id")
	fs.DurationVar(&cfg.MQTT.KeepAliveDuration, "mqtt-keep-alive", cfg.MQTT.KeepAliveDuration, "MQTT keep alive duration")
	fs.DurationVar(&cfg.MQTT.PingTimeout, "mqtt-ping-timeout", cfg.MQTT.PingTimeout, "MQTT ping timeout")
	fs.StringVar(&cfg.MQTT.Username, "mqtt-username", cfg.MQTT.Username, "MQTT username")
	fs.StringVar(&cfg.MQTT.Password, "mqtt-password", cfg.MQTT.Password, "MQTT password")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic")

	fs.StringVar(&cfg.Metrics.PushURL, "metrics-push", cfg.Metrics.PushURL, "it is recommended pushing metrics to /api/v1/import/prometheus")
	fs.DurationVar(&cfg.Metrics.PushInterval, "metrics-push-interval", cfg.Metrics.PushInterval, "metrics push interval")

	fs.StringVar(&cfg.Sheet.Addr, "sheet-addr", cfg.Sheet.Addr, "spreadsheet logger listen address")
	fs.StringVar(&cfg.Sheet.Path, "sheet-path", cfg.Sheet.Path, "spreadsheet CSV file")

	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	cfg.Channels = splitList(channels)
	cfg.Clock.Servers = splitList(servers)

	return cfg, nil
}

// Validate checks the alignment settings against one hour.
func (c Config) Validate() error {
	if len(c.Channels) == 0 {
		return ErrNoChannels
	}

	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if _, ok := seen[ch]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateChannel, ch)
		}

		seen[ch] = struct{}{}
	}

	s := c.Scheduler

	if s.SampleInterval <= 0 || 60%s.SampleInterval != 0 {
		return fmt.Errorf("%w: %d", ErrSampleInterval, s.SampleInterval)
	}

	if s.SamplesPerPeriod <= 0 || s.SamplesPerPeriod*s.SampleInterval > 60 {
		return fmt.Errorf("%w: %d", ErrSamplesPerPeriod, s.SamplesPerPeriod)
	}

	if s.ReportTriggerSecond < 1 || s.ReportTriggerSecond > 59 {
		return fmt.Errorf("%w: %d", ErrTriggerSecond, s.ReportTriggerSecond)
	}

	return nil
}

func findConfigPath(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" || !strings.HasPrefix(arg, "-") {
			continue
		}

		if hasValue {
			return value
		}

		if i+1 < len(args) {
			return args[i+1]
		}
	}

	return ""
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
