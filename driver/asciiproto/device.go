package asciiproto

import (
	"io"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/pkg/errors"
)

// Dialer opens the link to a discovered reader.
type Dialer func() (io.ReadWriteCloser, error)

var _ driver.DiscoveredDevice = (*Device)(nil)

// Device is a discovered reader that talks the line protocol once its link is open.
type Device struct {
	id             string
	dial           Dialer
	commandTimeout time.Duration
}

func DeviceNew(id string, dial Dialer, commandTimeout time.Duration) *Device {
	return &Device{id: id, dial: dial, commandTimeout: commandTimeout}
}

func (d *Device) Id() string {
	return d.id
}

func (d *Device) Open() (driver.DeviceHandle, error) {
	link, err := d.dial()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", d.id)
	}
	return HandleNew(d.id, link, d.commandTimeout), nil
}
