package fakedriver

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_Open(t *testing.T) {

	t.Run("every open yields its own link", func(t *testing.T) {
		dev := NewDevice("/dev/ttyACM0")

		first, err := dev.Open()
		require.NoError(t, err)
		second, err := dev.Open()
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		assert.Equal(t, 2, dev.Opened())
		assert.Equal(t, 2, dev.OpenLinks())
		assert.Equal(t, 2, dev.MaxOpenLinks())

		require.NoError(t, first.(io.Closer).Close())
		assert.Equal(t, 1, dev.Closed())
		assert.Equal(t, 1, dev.OpenLinks())
		assert.Equal(t, 2, dev.MaxOpenLinks())
	})

	t.Run("close is counted once", func(t *testing.T) {
		dev := NewDevice("/dev/ttyACM0")
		link, err := dev.Open()
		require.NoError(t, err)
		require.NoError(t, link.Connect())

		closer := link.(io.Closer)
		require.NoError(t, closer.Close())
		require.NoError(t, closer.Close())

		assert.Equal(t, 1, dev.Closed())
		assert.Zero(t, dev.OpenLinks())
		assert.False(t, dev.Handle().IsConnected())
		assert.Equal(t, 1, dev.Handle().CallCount(OpClose))
	})

	t.Run("failed open holds nothing", func(t *testing.T) {
		dev := NewDevice("/dev/ttyACM0").FailOpen(errors.New("permission denied"))

		_, err := dev.Open()
		assert.Error(t, err)
		assert.Zero(t, dev.Opened())
		assert.Zero(t, dev.OpenLinks())
	})

	t.Run("panicking close still releases the link", func(t *testing.T) {
		dev := NewDevice("/dev/ttyACM0")
		dev.Handle().PanicOn(OpClose)
		link, err := dev.Open()
		require.NoError(t, err)

		assert.Panics(t, func() { _ = link.(io.Closer).Close() })
		assert.Equal(t, 1, dev.Closed())
	})
}
