package pcsc

import (
	"sync"
	"testing"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/ebfe/scard"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	event scard.StateFlag
	err   error
}

// fakeContext replays scripted status changes, then waits for Cancel.
type fakeContext struct {
	mu        sync.Mutex
	readers   []string
	listErr   error
	steps     []step
	cancelled chan struct{}
	released  int
}

func newFakeContext(steps ...step) *fakeContext {
	return &fakeContext{steps: steps, cancelled: make(chan struct{}, 1)}
}

func (c *fakeContext) ListReaders() ([]string, error) {
	return c.readers, c.listErr
}

func (c *fakeContext) GetStatusChange(states []scard.ReaderState, timeout time.Duration) error {
	c.mu.Lock()
	if len(c.steps) > 0 {
		s := c.steps[0]
		c.steps = c.steps[1:]
		c.mu.Unlock()
		states[0].EventState = s.event | scard.StateChanged
		return s.err
	}
	c.mu.Unlock()

	if timeout == 0 {
		return scard.ErrTimeout
	}
	select {
	case <-c.cancelled:
		return scard.ErrCancelled
	case <-time.After(timeout):
		return scard.ErrTimeout
	}
}

func (c *fakeContext) Cancel() error {
	select {
	case c.cancelled <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	return nil
}

type listener struct {
	reads    chan driver.ReadEvent
	statuses chan driver.StatusEvent
}

func newListener() *listener {
	return &listener{reads: make(chan driver.ReadEvent, 8), statuses: make(chan driver.StatusEvent, 8)}
}

func (l *listener) ReadNotify(event driver.ReadEvent)     { l.reads <- event }
func (l *listener) StatusNotify(event driver.StatusEvent) { l.statuses <- event }

func (l *listener) waitStatus(t *testing.T, want driver.StatusEventType) {
	t.Helper()
	for {
		select {
		case event := <-l.statuses:
			if event.Type == want {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s", want)
		}
	}
}

func TestParseUid(t *testing.T) {
	uid, err := parseUid([]byte{0x04, 0xa2, 0x3b, 0x7a, 0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, "04A23B7A", uid)

	_, err = parseUid([]byte{0x63, 0x00})
	assert.EqualError(t, err, "get uid failed with status 6300")

	_, err = parseUid([]byte{0x90, 0x00})
	assert.Error(t, err)

	_, err = parseUid([]byte{0x90})
	assert.Error(t, err)
}

func TestTransport_Discover(t *testing.T) {

	t.Run("filters readers", func(t *testing.T) {
		ctx := newFakeContext()
		ctx.readers = []string{"ACS ACR122U PICC Interface 00 00", "Yubico YubiKey OTP+FIDO+CCID 01 00"}
		tr := TransportNew(Config{ReaderFilter: "acr122"})
		tr.establish = func() (cardContext, *scard.Context, error) { return ctx, nil, nil }

		devices, err := tr.Discover()
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "ACS ACR122U PICC Interface 00 00", devices[0].Id())
		assert.Equal(t, driver.TransportPCSC, tr.Kind())
	})

	t.Run("no readers is empty", func(t *testing.T) {
		ctx := newFakeContext()
		ctx.listErr = scard.ErrNoReadersAvailable
		tr := TransportNew(Config{})
		tr.establish = func() (cardContext, *scard.Context, error) { return ctx, nil, nil }

		devices, err := tr.Discover()
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("broken context is replaced", func(t *testing.T) {
		ctx := newFakeContext()
		ctx.listErr = scard.ErrNoService
		established := 0
		tr := TransportNew(Config{})
		tr.establish = func() (cardContext, *scard.Context, error) {
			established++
			return ctx, nil, nil
		}

		_, err := tr.Discover()
		require.Error(t, err)
		_, _ = tr.Discover()

		assert.Equal(t, 2, established)
		assert.Equal(t, 2, ctx.released)
	})
}

func TestHandle_Inventory(t *testing.T) {

	t.Run("reports cards placed on the reader", func(t *testing.T) {
		ctx := newFakeContext(
			step{event: scard.StateEmpty},
			step{event: scard.StatePresent},
			step{event: scard.StateEmpty},
		)
		h := handleNew("reader", ctx, func() (string, error) { return "04A23B7A", nil })
		l := newListener()
		require.NoError(t, h.RegisterEventListener(l))
		require.NoError(t, h.Connect())
		require.NoError(t, h.StartInventory())

		select {
		case <-l.reads:
		case <-time.After(2 * time.Second):
			t.Fatal("no read")
		}
		batch, err := h.FetchReadBatch(0)
		require.NoError(t, err)
		assert.Equal(t, []driver.TagData{{TagID: "04A23B7A"}}, batch)

		require.NoError(t, h.StopInventory())
		l.waitStatus(t, driver.StatusInventoryStop)
		require.NoError(t, h.Close())
		assert.Equal(t, 1, ctx.released)
	})

	t.Run("removed reader emits disconnection", func(t *testing.T) {
		ctx := newFakeContext(step{event: scard.StateEmpty}, step{err: scard.ErrReaderUnavailable})
		h := handleNew("reader", ctx, func() (string, error) { return "", errors.New("unused") })
		l := newListener()
		require.NoError(t, h.RegisterEventListener(l))
		require.NoError(t, h.Connect())
		require.NoError(t, h.StartInventory())

		l.waitStatus(t, driver.StatusDisconnection)
		assert.False(t, h.IsConnected())
		require.NoError(t, h.StopInventory())
	})

	t.Run("requires connection", func(t *testing.T) {
		h := handleNew("reader", newFakeContext(), nil)
		assert.True(t, rfiderror.IsKind(h.StartInventory(), rfiderror.InvalidUsage))
	})

	t.Run("unavailable reader does not connect", func(t *testing.T) {
		h := handleNew("reader", newFakeContext(step{event: scard.StateUnavailable}), nil)
		assert.True(t, rfiderror.IsKind(h.Connect(), rfiderror.OperationFailure))
		assert.False(t, h.IsConnected())
	})

	t.Run("handheld trigger is rejected", func(t *testing.T) {
		h := handleNew("reader", newFakeContext(), nil)
		assert.NoError(t, h.ConfigureTrigger(true, true))
		assert.True(t, rfiderror.IsKind(h.ConfigureTrigger(false, true), rfiderror.InvalidUsage))
	})
}
