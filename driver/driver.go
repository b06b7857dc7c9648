// Package driver describes the boundary between a reader session and the hardware layer
// that discovers and talks to RFID readers.
//
// Every call on a DeviceHandle may fail with a driver specific error. Implementations
// report hardware categories through rfiderror.DriverError where they can tell them apart.
package driver

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type TransportKind int

const (
	_                                = iota
	TransportSerial    TransportKind = iota
	TransportBluetooth TransportKind = iota
	TransportUSB       TransportKind = iota
	TransportPCSC      TransportKind = iota
)

// DefaultTransportOrder is the descending priority in which transports are probed.
var DefaultTransportOrder = []TransportKind{TransportSerial, TransportBluetooth, TransportUSB}

func (k TransportKind) String() string {
	switch k {
	case TransportSerial:
		return "serial"
	case TransportBluetooth:
		return "bluetooth"
	case TransportUSB:
		return "usb"
	case TransportPCSC:
		return "pcsc"
	}
	return "unknown"
}

func ParseTransportKind(name string) (TransportKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "serial", "service_serial":
		return TransportSerial, nil
	case "bluetooth", "bt":
		return TransportBluetooth, nil
	case "usb", "service_usb":
		return TransportUSB, nil
	case "pcsc", "scard":
		return TransportPCSC, nil
	}
	return 0, errors.Errorf("unknown transport %q", name)
}

// Driver is the allocated driver resource. Close releases it together with everything the
// discovery passes acquired.
type Driver interface {
	Discover(kind TransportKind) ([]DiscoveredDevice, error)
	Close() error
}

type DiscoveredDevice interface {
	Id() string
	Open() (DeviceHandle, error)
}

// DeviceHandle is a single open reader. It is not safe for concurrent use; the owner must
// serialize every call except FetchReadBatch, which listeners call from the notification
// goroutine.
type DeviceHandle interface {
	IsConnected() bool
	Connect() error
	Disconnect() error
	ConfigureTrigger(startImmediate bool, stopImmediate bool) error
	RegisterEventListener(listener EventListener) error
	UnregisterEventListener(listener EventListener) error
	StartInventory() error
	StopInventory() error
	FetchReadBatch(timeout time.Duration) ([]TagData, error)
}

type TagData struct {
	TagID string
}

// ReadEvent announces that read results are available through FetchReadBatch.
type ReadEvent struct {
	Count int
}

type StatusEventType string

const (
	StatusDisconnection   StatusEventType = "DISCONNECTION_EVENT"
	StatusInventoryStart  StatusEventType = "INVENTORY_START_EVENT"
	StatusInventoryStop   StatusEventType = "INVENTORY_STOP_EVENT"
	StatusHandheldTrigger StatusEventType = "HANDHELD_TRIGGER_EVENT"
	StatusBatteryEvent    StatusEventType = "BATTERY_EVENT"
)

type StatusEvent struct {
	Type StatusEventType
}

// EventListener is invoked on a goroutine owned by the driver.
type EventListener interface {
	ReadNotify(event ReadEvent)
	StatusNotify(event StatusEvent)
}
