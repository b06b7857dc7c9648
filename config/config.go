// Package config loads the reader configuration from YAML.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Transports     []string        `yaml:"transports"`
	ReadTimeout    time.Duration   `yaml:"read_timeout"`
	CommandTimeout time.Duration   `yaml:"command_timeout"`
	ReadPolicy     string          `yaml:"read_policy"`
	Serial         SerialConfig    `yaml:"serial"`
	Bluetooth      BluetoothConfig `yaml:"bluetooth"`
	Usb            UsbConfig       `yaml:"usb"`
	Pcsc           PcscConfig      `yaml:"pcsc"`
	Log            LogConfig       `yaml:"log"`
}

type SerialConfig struct {
	BaudRate  int      `yaml:"baud_rate"`
	Ports     []string `yaml:"ports"`
	VendorId  string   `yaml:"vendor_id"`
	ProductId string   `yaml:"product_id"`
}

type BluetoothConfig struct {
	Devices []BluetoothDevice `yaml:"devices"`
}

type BluetoothDevice struct {
	Address string `yaml:"address"`
	Channel uint8  `yaml:"channel"`
}

type UsbConfig struct {
	VendorId  HexId `yaml:"vendor_id"`
	ProductId HexId `yaml:"product_id"`
	Config    int   `yaml:"config"`
	Interface int   `yaml:"interface"`
}

type PcscConfig struct {
	ReaderFilter string `yaml:"reader_filter"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HexId is a USB vendor or product id. The value is always hex, as lsusb prints it:
// 0x05e0, 05e0 and "05e0" are the same id, and 0501 is 0x0501.
type HexId uint16

func (id *HexId) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: usb id must be a scalar", value.Line)
	}
	text := strings.ToLower(strings.TrimSpace(value.Value))
	text = strings.TrimPrefix(text, "0x")
	parsed, err := strconv.ParseUint(text, 16, 16)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid usb id %q", value.Line, value.Value)
	}
	*id = HexId(parsed)
	return nil
}

func (id HexId) String() string {
	return "0x" + strings.ToLower(strconv.FormatUint(uint64(id), 16))
}

func Default() *Config {
	return &Config{
		Transports:     []string{"serial", "bluetooth", "usb"},
		ReadTimeout:    session.DefaultReadTimeout,
		CommandTimeout: 3 * time.Second,
		ReadPolicy:     "first",
		Serial: SerialConfig{
			BaudRate: 115200,
			Ports:    []string{"/dev/ttyACM*", "/dev/ttyUSB*", "COM*"},
		},
		Usb: UsbConfig{
			VendorId: 0x05e0,
			Config:   1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", path)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.TransportOrder(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.ReadTimeout < 0 {
		return errors.New("read_timeout must not be negative")
	}
	if c.CommandTimeout < 0 {
		return errors.New("command_timeout must not be negative")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) TransportOrder() ([]driver.TransportKind, error) {
	order := make([]driver.TransportKind, 0, len(c.Transports))
	for _, name := range c.Transports {
		kind, err := driver.ParseTransportKind(name)
		if err != nil {
			return nil, err
		}
		order = append(order, kind)
	}
	if len(order) == 0 {
		return driver.DefaultTransportOrder, nil
	}
	return order, nil
}

func (c *Config) Policy() (session.ReadPolicy, error) {
	return session.ParseReadPolicy(c.ReadPolicy)
}

func (c *Config) LogLevel() (zerolog.Level, error) {
	return c.Log.ParseLevel()
}

func (l LogConfig) ParseLevel() (zerolog.Level, error) {
	if l.Level == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "log level %q", l.Level)
	}
	return level, nil
}

// SessionOptions converts the session related settings.
func (c *Config) SessionOptions() ([]session.Option, error) {
	order, err := c.TransportOrder()
	if err != nil {
		return nil, err
	}
	policy, err := c.Policy()
	if err != nil {
		return nil, err
	}
	return []session.Option{
		session.WithTransportOrder(order...),
		session.WithReadTimeout(c.ReadTimeout),
		session.WithReadPolicy(policy),
	}, nil
}
