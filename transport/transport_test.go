package transport

import (
	"testing"

	"github.com/MeneDev/rfid-reader/config"
	"github.com/MeneDev/rfid-reader/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(transports []driver.Transport) []driver.TransportKind {
	var result []driver.TransportKind
	for _, t := range transports {
		result = append(result, t.Kind())
	}
	return result
}

func TestNew(t *testing.T) {

	t.Run("one transport per configured kind", func(t *testing.T) {
		cfg := config.Default()
		cfg.Transports = []string{"usb", "serial", "usb", "pcsc"}

		transports, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, []driver.TransportKind{driver.TransportUSB, driver.TransportSerial, driver.TransportPCSC}, kinds(transports))
		for _, tr := range transports {
			assert.NoError(t, tr.Close())
		}
	})

	t.Run("rejects bad bluetooth address", func(t *testing.T) {
		cfg := config.Default()
		cfg.Bluetooth.Devices = []config.BluetoothDevice{{Address: "not-an-address"}}

		_, err := New(cfg)
		assert.Error(t, err)
	})

	t.Run("factory reports configuration errors", func(t *testing.T) {
		cfg := config.Default()
		cfg.Transports = []string{"carrier-pigeon"}

		_, err := DriverFactory(cfg)()
		assert.Error(t, err)
	})
}
