package driver

import (
	"errors"
	"testing"

	"github.com/MeneDev/rfid-reader/rfiderror"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDevice string

func (d stubDevice) Id() string                  { return string(d) }
func (d stubDevice) Open() (DeviceHandle, error) { return nil, errors.New("not implemented") }

type stubTransport struct {
	kind     TransportKind
	devices  []DiscoveredDevice
	err      error
	closeErr error
	closed   int
}

func (t *stubTransport) Kind() TransportKind { return t.kind }

func (t *stubTransport) Discover() ([]DiscoveredDevice, error) {
	return t.devices, t.err
}

func (t *stubTransport) Close() error {
	t.closed++
	return t.closeErr
}

func TestMultiDriver_Discover(t *testing.T) {

	t.Run("routes to transport of requested kind", func(t *testing.T) {
		usb := &stubTransport{kind: TransportUSB, devices: []DiscoveredDevice{stubDevice("1.4")}}
		serial := &stubTransport{kind: TransportSerial}
		drv := MultiDriverNew(serial, usb)

		devices, err := drv.Discover(TransportUSB)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "1.4", devices[0].Id())
	})

	t.Run("missing transport reports absent", func(t *testing.T) {
		drv := MultiDriverNew(&stubTransport{kind: TransportSerial})

		_, err := drv.Discover(TransportBluetooth)
		assert.Equal(t, rfiderror.ErrorTransportAbsent, pkgerrors.Cause(err))
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		cause := errors.New("port enumeration failed")
		drv := MultiDriverNew(&stubTransport{kind: TransportSerial, err: cause})

		_, err := drv.Discover(TransportSerial)
		assert.Equal(t, cause, pkgerrors.Cause(err))
		assert.Contains(t, err.Error(), "discover serial")
	})

	t.Run("closed driver refuses discovery", func(t *testing.T) {
		drv := MultiDriverNew(&stubTransport{kind: TransportSerial})
		require.NoError(t, drv.Close())

		_, err := drv.Discover(TransportSerial)
		assert.Equal(t, rfiderror.ErrorClosed, err)
	})
}

func TestMultiDriver_Close(t *testing.T) {
	failing := &stubTransport{kind: TransportUSB, closeErr: errors.New("busy")}
	fine := &stubTransport{kind: TransportSerial}
	drv := MultiDriverNew(failing, fine, nil)

	assert.Error(t, drv.Close())
	assert.NoError(t, drv.Close())
	assert.Equal(t, 1, failing.closed)
	assert.Equal(t, 1, fine.closed)
}

func TestParseTransportKind(t *testing.T) {
	for name, expected := range map[string]TransportKind{
		"serial":      TransportSerial,
		"SERVICE_USB": TransportUSB,
		" bluetooth ": TransportBluetooth,
		"pcsc":        TransportPCSC,
	} {
		kind, err := ParseTransportKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, kind, name)
	}

	_, err := ParseTransportKind("nfc")
	assert.Error(t, err)
}
