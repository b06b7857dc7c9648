package usbbulk

import (
	"testing"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkEndpoints(t *testing.T) {

	t.Run("selects bulk pair", func(t *testing.T) {
		in, out, err := bulkEndpoints(map[gousb.EndpointAddress]gousb.EndpointDesc{
			0x81: {Number: 1, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeInterrupt},
			0x82: {Number: 2, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeBulk},
			0x83: {Number: 3, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeBulk},
			0x02: {Number: 2, Direction: gousb.EndpointDirectionOut, TransferType: gousb.TransferTypeBulk},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, in)
		assert.Equal(t, 2, out)
	})

	t.Run("requires both directions", func(t *testing.T) {
		_, _, err := bulkEndpoints(map[gousb.EndpointAddress]gousb.EndpointDesc{
			0x81: {Number: 1, Direction: gousb.EndpointDirectionIn, TransferType: gousb.TransferTypeBulk},
		})
		assert.True(t, rfiderror.IsKind(err, rfiderror.InvalidUsage))
	})
}

func TestTransport_Matches(t *testing.T) {
	desc := &gousb.DeviceDesc{Bus: 1, Address: 7, Vendor: 0x05e0, Product: 0x1701}

	assert.True(t, TransportNew(Config{VendorId: 0x05e0}, 0).matches(desc))
	assert.True(t, TransportNew(Config{VendorId: 0x05e0, ProductId: 0x1701}, 0).matches(desc))
	assert.False(t, TransportNew(Config{VendorId: 0x05e0, ProductId: 0x1702}, 0).matches(desc))
	assert.False(t, TransportNew(Config{VendorId: 0x0403}, 0).matches(desc))
	assert.Equal(t, "1.7", deviceId(desc))
}

func TestTransportNew(t *testing.T) {
	tr := TransportNew(Config{VendorId: 0x05e0}, 0)
	assert.Equal(t, 1, tr.cfg.Config)
	assert.Equal(t, driver.TransportUSB, tr.Kind())
	assert.NoError(t, tr.Close())
}
