package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)

		order, err := cfg.TransportOrder()
		require.NoError(t, err)
		assert.Equal(t, driver.DefaultTransportOrder, order)
	})

	t.Run("overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
transports: [usb, pcsc]
read_timeout: 250ms
read_policy: all
serial:
  baud_rate: 9600
usb:
  vendor_id: 0x1325
  product_id: "c029"
bluetooth:
  devices:
    - address: "00:1A:7D:DA:71:13"
      channel: 2
pcsc:
  reader_filter: ACR122
log:
  level: debug
  format: json
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		order, err := cfg.TransportOrder()
		require.NoError(t, err)
		assert.Equal(t, []driver.TransportKind{driver.TransportUSB, driver.TransportPCSC}, order)
		assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
		assert.Equal(t, 3*time.Second, cfg.CommandTimeout)
		assert.Equal(t, 9600, cfg.Serial.BaudRate)
		assert.Equal(t, []string{"/dev/ttyACM*", "/dev/ttyUSB*", "COM*"}, cfg.Serial.Ports)
		assert.Equal(t, HexId(0x1325), cfg.Usb.VendorId)
		assert.Equal(t, HexId(0xc029), cfg.Usb.ProductId)
		assert.Equal(t, 1, cfg.Usb.Config)
		assert.Equal(t, []BluetoothDevice{{Address: "00:1A:7D:DA:71:13", Channel: 2}}, cfg.Bluetooth.Devices)
		assert.Equal(t, "ACR122", cfg.Pcsc.ReaderFilter)

		policy, err := cfg.Policy()
		require.NoError(t, err)
		assert.Equal(t, session.WholeBatch, policy)

		level, err := cfg.LogLevel()
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, level)
	})

	t.Run("rejects unknown transport", func(t *testing.T) {
		_, err := Load(writeConfig(t, "transports: [nfc]\n"))
		assert.Error(t, err)
	})

	t.Run("rejects unknown read policy", func(t *testing.T) {
		_, err := Load(writeConfig(t, "read_policy: newest\n"))
		assert.Error(t, err)
	})

	t.Run("rejects bad usb id", func(t *testing.T) {
		_, err := Load(writeConfig(t, "usb:\n  vendor_id: xyz\n"))
		assert.Error(t, err)
	})

	t.Run("usb ids are hex as lsusb prints them", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "usb:\n  vendor_id: 0501\n  product_id: 1701\n"))
		require.NoError(t, err)
		assert.Equal(t, HexId(0x0501), cfg.Usb.VendorId)
		assert.Equal(t, HexId(0x1701), cfg.Usb.ProductId)
	})

	t.Run("rejects bad log format", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log:\n  format: xml\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_SessionOptions(t *testing.T) {
	opts, err := Default().SessionOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}

func TestHexId_UnmarshalYAML(t *testing.T) {
	for text, want := range map[string]HexId{
		"0501":     0x0501,
		"05e0":     0x05e0,
		"1325":     0x1325,
		"0x1325":   0x1325,
		"0X05E0":   0x05e0,
		`"c029"`:   0xc029,
		`"0x05e0"`: 0x05e0,
	} {
		var usb UsbConfig
		require.NoError(t, yaml.Unmarshal([]byte("vendor_id: "+text), &usb), text)
		assert.Equal(t, want, usb.VendorId, text)
	}

	for _, text := range []string{"xyz", "0x10000", "[0x05e0]", "-1"} {
		var usb UsbConfig
		assert.Error(t, yaml.Unmarshal([]byte("vendor_id: "+text), &usb), text)
	}
}

func TestHexId_String(t *testing.T) {
	assert.Equal(t, "0x5e0", HexId(0x05e0).String())
}
