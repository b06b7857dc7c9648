package rfiderror

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestConnectMessage(t *testing.T) {

	t.Run("reader errors keep their text", func(t *testing.T) {
		assert.Equal(t, "No RFID reader found", ConnectMessage(ErrorNoReaderFound))
		assert.Equal(t, "Reader not initialized", ConnectMessage(errors.Wrap(ErrorNotInitialized, "connect")))
	})

	t.Run("invalid usage", func(t *testing.T) {
		err := errors.Wrap(NewInvalidUsage("connect", "reader busy with another host"), "open")
		assert.Equal(t, "Invalid usage: reader busy with another host", ConnectMessage(err))
		assert.True(t, IsKind(err, InvalidUsage))
	})

	t.Run("operation failure uses vendor message", func(t *testing.T) {
		err := NewOperationFailure("connect", "region not set")
		assert.Equal(t, "Connection failed: region not set", ConnectMessage(err))
		assert.True(t, IsKind(err, OperationFailure))
		assert.False(t, IsKind(err, InvalidUsage))
	})

	t.Run("anything else", func(t *testing.T) {
		assert.Equal(t, "Connect failed: broken pipe", ConnectMessage(errors.New("broken pipe")))
	})
}

func TestOperationMessages(t *testing.T) {
	assert.Equal(t, "Start scan failed: antenna fault", StartMessage(NewOperationFailure("inventory", "antenna fault")))
	assert.Equal(t, "Start scan failed: timeout", StartMessage(errors.New("timeout")))
	assert.Equal(t, "Read failed: buffer overrun", ReadMessage(NewOperationFailure("", "buffer overrun")))
	assert.Equal(t, "SDK init failed: no libusb", InitMessage(errors.New("no libusb")))
}

func TestDriverError_Error(t *testing.T) {
	assert.Equal(t, "abort: operation failure: not running", NewOperationFailure("abort", "not running").Error())
	assert.Equal(t, "invalid usage: bad trigger", NewInvalidUsage("", "bad trigger").Error())
	assert.Equal(t, "unknown error", ReaderError(99).Error())
}
