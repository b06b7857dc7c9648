// Package serialport finds readers attached as serial ports, including USB CDC-ACM and
// USB-serial adapters.
package serialport

import (
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/driver/asciiproto"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var DefaultPorts = []string{"/dev/ttyACM*", "/dev/ttyUSB*", "COM*"}

const DefaultBaudRate = 115200

type Config struct {
	BaudRate int
	// Ports are port names or glob patterns.
	Ports []string
	// VendorId and ProductId select USB serial ports by hex id, e.g. "05E0". A USB port
	// matching them is taken even if its name matches no pattern.
	VendorId  string
	ProductId string
}

var _ driver.Transport = (*Transport)(nil)

type Transport struct {
	cfg            Config
	commandTimeout time.Duration
	listPorts      func() ([]*enumerator.PortDetails, error)
	open           func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)
}

func TransportNew(cfg Config, commandTimeout time.Duration) *Transport {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = DefaultPorts
	}
	return &Transport{
		cfg:            cfg,
		commandTimeout: commandTimeout,
		listPorts:      enumerator.GetDetailedPortsList,
		open: func(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
			return serial.Open(name, mode)
		},
	}
}

func (t *Transport) Kind() driver.TransportKind {
	return driver.TransportSerial
}

func (t *Transport) Discover() ([]driver.DiscoveredDevice, error) {
	ports, err := t.listPorts()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}

	var names []string
	for _, port := range ports {
		if t.matches(port) {
			names = append(names, port.Name)
		} else {
			log.Debug().Str("port", port.Name).Msg("skipping serial port")
		}
	}
	sort.Strings(names)

	devices := make([]driver.DiscoveredDevice, 0, len(names))
	for _, name := range names {
		devices = append(devices, asciiproto.DeviceNew(name, t.dialer(name), t.commandTimeout))
	}
	return devices, nil
}

func (t *Transport) Close() error {
	return nil
}

func (t *Transport) matches(port *enumerator.PortDetails) bool {
	if t.cfg.VendorId != "" {
		if port.IsUSB && strings.EqualFold(port.VID, t.cfg.VendorId) &&
			(t.cfg.ProductId == "" || strings.EqualFold(port.PID, t.cfg.ProductId)) {
			return true
		}
	}

	for _, pattern := range t.cfg.Ports {
		if ok, _ := filepath.Match(pattern, port.Name); ok {
			return true
		}
	}
	return false
}

func (t *Transport) dialer(name string) asciiproto.Dialer {
	return func() (io.ReadWriteCloser, error) {
		mode := &serial.Mode{
			BaudRate: t.cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := t.open(name, mode)
		if err != nil {
			return nil, classify("open "+name, err)
		}
		return port, nil
	}
}

// classify maps port errors onto the driver error kinds.
func classify(op string, err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}

	switch portErr.Code() {
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits,
		serial.InvalidTimeoutValue, serial.InvalidSerialPort:
		return rfiderror.NewInvalidUsage(op, portErr.EncodedErrorString())
	case serial.PortBusy, serial.PermissionDenied, serial.PortNotFound, serial.PortClosed:
		return rfiderror.NewOperationFailure(op, portErr.EncodedErrorString())
	}
	return err
}
