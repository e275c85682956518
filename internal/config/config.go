// Package config holds the bridgelog settings: sampling and output cadences,
// device discovery, display, logging and the optional run log. Values come
// from viper (config file, BRIDGELOG_* environment, bound flags) on top of
// the defaults below.
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	FileName   = "bridgelog"
	FileSuffix = ".yaml"
	EnvPrefix  = "BRIDGELOG"
)

// Output modes.
const (
	ModeFile = "file"
	ModeUDP  = "udp"
	ModeZMQ  = "zmq"
)

// Display modes.
const (
	DisplayTUI   = "tui"
	DisplayTable = "table"
	DisplayNone  = "none"
)

// UDP payload formats.
const (
	FormatBinary = "binary"
	FormatInflux = "influx"
)

type Config struct {
	Sampling SamplingConfig `mapstructure:"sampling" yaml:"sampling"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
	Devices  DevicesConfig  `mapstructure:"devices" yaml:"devices"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	RunLog   RunLogConfig   `mapstructure:"runlog" yaml:"runlog"`
}

type SamplingConfig struct {
	Interval     Duration `mapstructure:"interval" yaml:"interval"`
	DataInterval Duration `mapstructure:"data_interval" yaml:"data_interval"`
	Gain         int      `mapstructure:"gain" yaml:"gain"`
}

type OutputConfig struct {
	Mode string     `mapstructure:"mode" yaml:"mode"`
	File FileConfig `mapstructure:"file" yaml:"file"`
	UDP  UDPConfig  `mapstructure:"udp" yaml:"udp"`
	ZMQ  ZMQConfig  `mapstructure:"zmq" yaml:"zmq"`
}

type FileConfig struct {
	Dir      string   `mapstructure:"dir" yaml:"dir"`
	Prefix   string   `mapstructure:"prefix" yaml:"prefix"`
	Interval Duration `mapstructure:"interval" yaml:"interval"`
}

type UDPConfig struct {
	IP               string   `mapstructure:"ip" yaml:"ip"`
	Port             int      `mapstructure:"port" yaml:"port"`
	Interval         Duration `mapstructure:"interval" yaml:"interval"`
	Format           string   `mapstructure:"format" yaml:"format"`
	ByteOrder        string   `mapstructure:"byte_order" yaml:"byte_order"`
	IncludeTimestamp bool     `mapstructure:"include_timestamp" yaml:"include_timestamp"`
	Measurement      string   `mapstructure:"measurement" yaml:"measurement"`
}

// Addr returns the UDP target as host:port.
func (u UDPConfig) Addr() string {
	return net.JoinHostPort(u.IP, fmt.Sprint(u.Port))
}

type ZMQConfig struct {
	Endpoint string   `mapstructure:"endpoint" yaml:"endpoint"`
	Topic    string   `mapstructure:"topic" yaml:"topic"`
	Interval Duration `mapstructure:"interval" yaml:"interval"`
}

type DisplayConfig struct {
	Mode          string   `mapstructure:"mode" yaml:"mode"`
	Interval      Duration `mapstructure:"interval" yaml:"interval"`
	TableInterval Duration `mapstructure:"table_interval" yaml:"table_interval"`
	SecondsBefore float64  `mapstructure:"seconds_before" yaml:"seconds_before"`
	SecondsAfter  float64  `mapstructure:"seconds_after" yaml:"seconds_after"`
	PlotDir       string   `mapstructure:"plot_dir" yaml:"plot_dir"`
}

type DevicesConfig struct {
	Virtual       bool                   `mapstructure:"virtual" yaml:"virtual"`
	VirtualSerial int                    `mapstructure:"virtual_serial" yaml:"virtual_serial"`
	Dictionary    string                 `mapstructure:"dictionary" yaml:"dictionary"`
	Separator     string                 `mapstructure:"separator" yaml:"separator"`
	Serial        SerialConfig           `mapstructure:"serial" yaml:"serial"`
	Boards        map[string]BoardConfig `mapstructure:"boards" yaml:"boards,omitempty"`
}

type SerialConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Ports        []string `mapstructure:"ports" yaml:"ports"`
	VID          string   `mapstructure:"vid" yaml:"vid"`
	PID          string   `mapstructure:"pid" yaml:"pid"`
	BaudRate     int      `mapstructure:"baudrate" yaml:"baudrate"`
	ScanInterval Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
}

// BoardConfig overrides channel names and calibration for one serial number.
type BoardConfig struct {
	Channels []ChannelConfig `mapstructure:"channels" yaml:"channels"`
}

type ChannelConfig struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Sensitivity float64 `mapstructure:"sensitivity" yaml:"sensitivity"`
	Offset      float64 `mapstructure:"offset" yaml:"offset"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Level      string `mapstructure:"level" yaml:"level"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type RunLogConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Database string `mapstructure:"database" yaml:"database"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Sampling: SamplingConfig{
			Interval:     Duration(8 * time.Millisecond),
			DataInterval: Duration(8 * time.Millisecond),
			Gain:         64,
		},
		Output: OutputConfig{
			Mode: ModeFile,
			File: FileConfig{Dir: ".", Interval: Duration(time.Second)},
			UDP: UDPConfig{
				IP:          "192.168.1.98",
				Port:        25098,
				Interval:    Duration(100 * time.Millisecond),
				Format:      FormatBinary,
				ByteOrder:   "little",
				Measurement: "bridge",
			},
			ZMQ: ZMQConfig{
				Endpoint: "tcp://*:5502",
				Topic:    "bridge",
				Interval: Duration(100 * time.Millisecond),
			},
		},
		Display: DisplayConfig{
			Mode:          DisplayTUI,
			Interval:      Duration(20 * time.Millisecond),
			TableInterval: Duration(time.Second),
			SecondsBefore: 15,
			SecondsAfter:  5,
			PlotDir:       ".",
		},
		Devices: DevicesConfig{
			VirtualSerial: 1337,
			Dictionary:    "board_dictionary.json",
			Separator:     DefaultSeparator,
			Serial: SerialConfig{
				Enabled:      true,
				BaudRate:     460800,
				ScanInterval: Duration(time.Second),
			},
		},
		Log: LogConfig{
			File:       "bridgelog.log",
			Level:      "info",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 4,
			MaxAgeDays: 180,
		},
		RunLog: RunLogConfig{
			Addr:     "localhost:9000",
			Database: "bridgelog",
		},
	}
}

// SetDefaults registers every default value with v so that env variables and
// flags can override individual keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("sampling.interval", d.Sampling.Interval.Duration())
	v.SetDefault("sampling.data_interval", d.Sampling.DataInterval.Duration())
	v.SetDefault("sampling.gain", d.Sampling.Gain)

	v.SetDefault("output.mode", d.Output.Mode)
	v.SetDefault("output.file.dir", d.Output.File.Dir)
	v.SetDefault("output.file.prefix", d.Output.File.Prefix)
	v.SetDefault("output.file.interval", d.Output.File.Interval.Duration())
	v.SetDefault("output.udp.ip", d.Output.UDP.IP)
	v.SetDefault("output.udp.port", d.Output.UDP.Port)
	v.SetDefault("output.udp.interval", d.Output.UDP.Interval.Duration())
	v.SetDefault("output.udp.format", d.Output.UDP.Format)
	v.SetDefault("output.udp.byte_order", d.Output.UDP.ByteOrder)
	v.SetDefault("output.udp.include_timestamp", d.Output.UDP.IncludeTimestamp)
	v.SetDefault("output.udp.measurement", d.Output.UDP.Measurement)
	v.SetDefault("output.zmq.endpoint", d.Output.ZMQ.Endpoint)
	v.SetDefault("output.zmq.topic", d.Output.ZMQ.Topic)
	v.SetDefault("output.zmq.interval", d.Output.ZMQ.Interval.Duration())

	v.SetDefault("display.mode", d.Display.Mode)
	v.SetDefault("display.interval", d.Display.Interval.Duration())
	v.SetDefault("display.table_interval", d.Display.TableInterval.Duration())
	v.SetDefault("display.seconds_before", d.Display.SecondsBefore)
	v.SetDefault("display.seconds_after", d.Display.SecondsAfter)
	v.SetDefault("display.plot_dir", d.Display.PlotDir)

	v.SetDefault("devices.virtual", d.Devices.Virtual)
	v.SetDefault("devices.virtual_serial", d.Devices.VirtualSerial)
	v.SetDefault("devices.dictionary", d.Devices.Dictionary)
	v.SetDefault("devices.separator", d.Devices.Separator)
	v.SetDefault("devices.serial.enabled", d.Devices.Serial.Enabled)
	v.SetDefault("devices.serial.ports", []string{})
	v.SetDefault("devices.serial.vid", d.Devices.Serial.VID)
	v.SetDefault("devices.serial.pid", d.Devices.Serial.PID)
	v.SetDefault("devices.serial.baudrate", d.Devices.Serial.BaudRate)
	v.SetDefault("devices.serial.scan_interval", d.Devices.Serial.ScanInterval.Duration())

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("runlog.enabled", d.RunLog.Enabled)
	v.SetDefault("runlog.addr", d.RunLog.Addr)
	v.SetDefault("runlog.database", d.RunLog.Database)
	v.SetDefault("runlog.username", "")
	v.SetDefault("runlog.password", "")
}

// makeFileExist checks that dir/filename exists, and creates the directory
// and an empty file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}

	fullname := filepath.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err != nil {
			return "", err
		}
		f.Close()
	}
	return fullname, nil
}

// Setup prepares v: defaults, environment, and the config file. An explicit
// path is read as is; otherwise $HOME/.bridgelog/bridgelog.yaml is created if
// missing and the usual locations are searched.
func Setup(v *viper.Viper, path string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("finding user home dir: %w", err)
	}
	dotDir := filepath.Join(home, ".bridgelog")
	if _, err := makeFileExist(dotDir, FileName+FileSuffix); err != nil {
		return err
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(dotDir)
	v.AddConfigPath(filepath.FromSlash("/etc/bridgelog"))
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validGains = map[int]bool{1: true, 8: true, 16: true, 32: true, 64: true, 128: true}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Sampling.Interval <= 0 {
		return fmt.Errorf("sampling.interval must be positive, got %s", c.Sampling.Interval)
	}
	if c.Sampling.DataInterval <= 0 {
		return fmt.Errorf("sampling.data_interval must be positive, got %s", c.Sampling.DataInterval)
	}
	if !validGains[c.Sampling.Gain] {
		return fmt.Errorf("sampling.gain must be one of 1, 8, 16, 32, 64, 128, got %d", c.Sampling.Gain)
	}

	switch c.Output.Mode {
	case ModeFile:
		if c.Output.File.Interval <= 0 {
			return fmt.Errorf("output.file.interval must be positive")
		}
	case ModeUDP:
		if ip := net.ParseIP(c.Output.UDP.IP); ip == nil || ip.To4() == nil {
			return fmt.Errorf("output.udp.ip %q is not an IPv4 address", c.Output.UDP.IP)
		}
		if c.Output.UDP.Port < 1 || c.Output.UDP.Port > 65535 {
			return fmt.Errorf("output.udp.port %d out of range", c.Output.UDP.Port)
		}
		if c.Output.UDP.Interval <= 0 {
			return fmt.Errorf("output.udp.interval must be positive")
		}
		if c.Output.UDP.Format != FormatBinary && c.Output.UDP.Format != FormatInflux {
			return fmt.Errorf("output.udp.format must be %q or %q, got %q", FormatBinary, FormatInflux, c.Output.UDP.Format)
		}
		if c.Output.UDP.ByteOrder != "little" && c.Output.UDP.ByteOrder != "big" {
			return fmt.Errorf("output.udp.byte_order must be little or big, got %q", c.Output.UDP.ByteOrder)
		}
	case ModeZMQ:
		if c.Output.ZMQ.Endpoint == "" {
			return fmt.Errorf("output.zmq.endpoint is required")
		}
		if c.Output.ZMQ.Interval <= 0 {
			return fmt.Errorf("output.zmq.interval must be positive")
		}
	default:
		return fmt.Errorf("output.mode must be file, udp or zmq, got %q", c.Output.Mode)
	}

	switch c.Display.Mode {
	case DisplayTUI, DisplayTable, DisplayNone:
	default:
		return fmt.Errorf("display.mode must be tui, table or none, got %q", c.Display.Mode)
	}
	if c.Display.Mode != DisplayNone && c.Display.Interval <= 0 {
		return fmt.Errorf("display.interval must be positive")
	}
	if c.Display.SecondsAfter <= 0 {
		return fmt.Errorf("display.seconds_after must be positive")
	}
	if c.Display.SecondsBefore < 0 {
		return fmt.Errorf("display.seconds_before must not be negative")
	}

	if c.Devices.Serial.Enabled && c.Devices.Serial.BaudRate <= 0 {
		return fmt.Errorf("devices.serial.baudrate must be positive")
	}
	for serial, board := range c.Devices.Boards {
		if len(board.Channels) > 4 {
			return fmt.Errorf("devices.boards.%s: a board has 4 channels, got %d", serial, len(board.Channels))
		}
	}
	return nil
}

// DisplayCapacity is the number of samples kept for display:
// round(seconds_after / sampling interval).
func (c *Config) DisplayCapacity() int {
	n := int(math.Round(c.Display.SecondsAfter / c.Sampling.Interval.Seconds()))
	if n < 1 {
		return 1
	}
	return n
}
