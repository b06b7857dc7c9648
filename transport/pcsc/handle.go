package pcsc

import (
	"sync"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/ebfe/scard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pollTimeout bounds a single wait for card events.
const pollTimeout = 500 * time.Millisecond

var _ driver.DeviceHandle = (*Handle)(nil)

type Handle struct {
	reader  string
	ctx     cardContext
	readUid func() (string, error)
	logger  zerolog.Logger
	batch   *driver.BatchQueue

	mu        sync.Mutex
	connected bool
	closed    bool
	listeners []driver.EventListener
	polling   chan struct{}
	stop      bool
}

func handleNew(reader string, ctx cardContext, readUid func() (string, error)) *Handle {
	return &Handle{
		reader:  reader,
		ctx:     ctx,
		readUid: readUid,
		logger:  log.With().Str("reader", reader).Logger(),
		batch:   driver.BatchQueueNew(256),
	}
}

func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Connect checks that the reader is still attached. Cards are connected per read.
func (h *Handle) Connect() error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return errors.Wrap(rfiderror.ErrorClosed, "connect")
	}

	states := []scard.ReaderState{{Reader: h.reader, CurrentState: scard.StateUnaware}}
	err := h.ctx.GetStatusChange(states, 0)
	if err != nil && err != scard.ErrTimeout {
		return rfiderror.NewOperationFailure("connect", err.Error())
	}
	if states[0].EventState&(scard.StateUnavailable|scard.StateUnknown) != 0 {
		return rfiderror.NewOperationFailure("connect", "reader unavailable")
	}

	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	return nil
}

func (h *Handle) Disconnect() error {
	h.stopPolling()
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
	h.batch.Reset()
	return nil
}

// ConfigureTrigger accepts immediate triggers only; contactless readers have no trigger.
func (h *Handle) ConfigureTrigger(startImmediate bool, stopImmediate bool) error {
	if !startImmediate || !stopImmediate {
		return rfiderror.NewInvalidUsage("configure trigger", "handheld trigger not supported")
	}
	return nil
}

func (h *Handle) RegisterEventListener(listener driver.EventListener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, listener)
	return nil
}

func (h *Handle) UnregisterEventListener(listener driver.EventListener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l == listener {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			break
		}
	}
	return nil
}

func (h *Handle) StartInventory() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return rfiderror.NewInvalidUsage("start inventory", "reader not connected")
	}
	if h.polling != nil {
		return nil
	}

	h.stop = false
	h.polling = make(chan struct{})
	h.batch.Reset()
	go h.poll(h.polling)
	return nil
}

func (h *Handle) StopInventory() error {
	h.stopPolling()
	return nil
}

func (h *Handle) stopPolling() {
	h.mu.Lock()
	done := h.polling
	h.stop = true
	h.mu.Unlock()
	if done == nil {
		return
	}

	if err := h.ctx.Cancel(); err != nil {
		h.logger.Debug().Err(err).Msg("could not cancel status change")
	}
	<-done
}

func (h *Handle) FetchReadBatch(timeout time.Duration) ([]driver.TagData, error) {
	return h.batch.Fetch(timeout), nil
}

func (h *Handle) Close() error {
	h.stopPolling()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.connected = false
	h.mu.Unlock()

	return h.ctx.Release()
}

func (h *Handle) stopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop
}

func (h *Handle) poll(done chan struct{}) {
	defer func() {
		h.mu.Lock()
		h.polling = nil
		h.mu.Unlock()
		close(done)
	}()

	h.notifyStatus(driver.StatusInventoryStart)
	defer h.notifyStatus(driver.StatusInventoryStop)

	states := []scard.ReaderState{{Reader: h.reader, CurrentState: scard.StateUnaware}}
	for !h.stopping() {
		err := h.ctx.GetStatusChange(states, pollTimeout)
		switch err {
		case nil:
		case scard.ErrTimeout:
			continue
		case scard.ErrCancelled:
			return
		case scard.ErrUnknownReader, scard.ErrReaderUnavailable, scard.ErrNoReadersAvailable:
			h.lost(err)
			return
		default:
			h.logger.Warn().Err(err).Msg("status change failed")
			time.Sleep(pollTimeout)
			continue
		}

		state := states[0]
		event := state.EventState &^ scard.StateChanged
		if event&(scard.StateUnavailable|scard.StateUnknown) != 0 {
			h.lost(errors.New("reader unavailable"))
			return
		}
		if state.CurrentState&scard.StatePresent == 0 && event&scard.StatePresent != 0 {
			h.cardArrived()
		}

		states[0].CurrentState = event
		states[0].EventState = scard.StateUnaware
	}
}

func (h *Handle) cardArrived() {
	uid, err := h.readUid()
	if err != nil {
		h.logger.Warn().Err(err).Msg("could not read card uid")
		return
	}
	h.logger.Debug().Str("uid", uid).Msg("card read")
	h.batch.Push(driver.TagData{TagID: uid})

	for _, l := range h.snapshotListeners() {
		l.ReadNotify(driver.ReadEvent{Count: 1})
	}
}

func (h *Handle) lost(err error) {
	h.logger.Warn().Err(err).Msg("reader lost")
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
	h.notifyStatus(driver.StatusDisconnection)
}

func (h *Handle) notifyStatus(eventType driver.StatusEventType) {
	for _, l := range h.snapshotListeners() {
		l.StatusNotify(driver.StatusEvent{Type: eventType})
	}
}

func (h *Handle) snapshotListeners() []driver.EventListener {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]driver.EventListener(nil), h.listeners...)
}
