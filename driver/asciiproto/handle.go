// Package asciiproto speaks the line based command protocol of serial, Bluetooth and USB
// readers. Any io.ReadWriteCloser carrying that protocol becomes a driver.DeviceHandle.
//
// Host to reader:
//
//	connect
//	disconnect
//	config trigger start=<immediate|handheld> stop=<immediate|handheld>
//	config events tagread=<on|off> status=<on|off>
//	inventory
//	abort
//
// Reader to host:
//
//	OK
//	ERR <CODE> <message>
//	TAG <epc>[,<epc>...]
//	EVT <STATUS_TYPE>
//
// Lines end with CRLF. Every command is answered with OK or ERR, TAG and EVT lines arrive
// at any time.
package asciiproto

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultCommandTimeout = 3 * time.Second

// batchLimit bounds the reads buffered between two fetches.
const batchLimit = 1024

type reply struct {
	err *rfiderror.DriverError
}

var _ driver.DeviceHandle = (*Handle)(nil)
var _ io.Closer = (*Handle)(nil)

// Handle owns the link. A reader goroutine consumes everything the reader sends, replies are
// matched to the single outstanding command and notifications are handed to the listeners on
// that goroutine. Listeners must not issue commands from their notification methods.
type Handle struct {
	name    string
	link    io.ReadWriteCloser
	timeout time.Duration
	logger  zerolog.Logger
	batch   *driver.BatchQueue
	replies chan reply
	done    chan struct{}

	cmdMu sync.Mutex

	mu        sync.Mutex
	connected bool
	closed    bool
	listeners []driver.EventListener
	linkErr   error

	closeOnce sync.Once
}

func HandleNew(name string, link io.ReadWriteCloser, commandTimeout time.Duration) *Handle {
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}
	h := &Handle{
		name:    name,
		link:    link,
		timeout: commandTimeout,
		logger:  log.With().Str("reader", name).Logger(),
		batch:   driver.BatchQueueNew(batchLimit),
		replies: make(chan reply, 1),
		done:    make(chan struct{}),
	}

	go h.readLoop()

	return h
}

func (h *Handle) readLoop() {
	defer close(h.done)

	scanner := bufio.NewScanner(h.link)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.handleLine(line)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}

	h.mu.Lock()
	h.linkErr = err
	h.connected = false
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return
	}

	h.logger.Warn().Err(err).Msg("link lost")
	h.notifyStatus(driver.StatusDisconnection)
}

func (h *Handle) handleLine(line string) {
	keyword, rest, _ := strings.Cut(line, " ")
	switch strings.ToUpper(keyword) {
	case "OK":
		h.deliver(reply{})
	case "ERR":
		h.deliver(reply{err: parseErr(rest)})
	case "TAG":
		tags := parseTags(rest)
		if len(tags) == 0 {
			return
		}
		h.batch.Push(tags...)
		h.notifyRead(len(tags))
	case "EVT":
		h.notifyStatus(driver.StatusEventType(strings.ToUpper(strings.TrimSpace(rest))))
	default:
		h.logger.Debug().Str("line", line).Msg("ignoring unknown line")
	}
}

func parseErr(rest string) *rfiderror.DriverError {
	code, message, _ := strings.Cut(strings.TrimSpace(rest), " ")
	kind := rfiderror.OperationFailure
	if strings.EqualFold(code, "USAGE") {
		kind = rfiderror.InvalidUsage
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = code
	}
	return &rfiderror.DriverError{Kind: kind, VendorMessage: message}
}

func parseTags(rest string) []driver.TagData {
	var tags []driver.TagData
	for _, field := range strings.Split(rest, ",") {
		epc := strings.ToUpper(strings.TrimSpace(field))
		if epc != "" {
			tags = append(tags, driver.TagData{TagID: epc})
		}
	}
	return tags
}

func (h *Handle) deliver(r reply) {
	select {
	case h.replies <- r:
	default:
		h.logger.Warn().Msg("dropping unexpected reply")
	}
}

func (h *Handle) snapshotListeners() []driver.EventListener {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]driver.EventListener(nil), h.listeners...)
}

func (h *Handle) notifyRead(count int) {
	for _, l := range h.snapshotListeners() {
		l.ReadNotify(driver.ReadEvent{Count: count})
	}
}

func (h *Handle) notifyStatus(eventType driver.StatusEventType) {
	for _, l := range h.snapshotListeners() {
		l.StatusNotify(driver.StatusEvent{Type: eventType})
	}
}

// command sends line and waits for its OK or ERR.
func (h *Handle) command(op string, line string) error {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	h.mu.Lock()
	closed, linkErr := h.closed, h.linkErr
	h.mu.Unlock()
	if closed {
		return errors.Wrap(rfiderror.ErrorClosed, op)
	}
	if linkErr != nil {
		return rfiderror.NewOperationFailure(op, "link lost: "+linkErr.Error())
	}

	// a reply that arrived after its command timed out
	select {
	case <-h.replies:
	default:
	}

	h.logger.Debug().Str("command", line).Msg("sending")
	if _, err := io.WriteString(h.link, line+"\r\n"); err != nil {
		return errors.Wrapf(err, "write %s", op)
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case r := <-h.replies:
		if r.err != nil {
			r.err.Op = op
			return r.err
		}
		return nil
	case <-h.done:
		return rfiderror.NewOperationFailure(op, "link closed")
	case <-timer.C:
		return rfiderror.NewOperationFailure(op, fmt.Sprintf("no response within %s", h.timeout))
	}
}

func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Handle) Connect() error {
	if err := h.command("connect", "connect"); err != nil {
		return err
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	return nil
}

func (h *Handle) Disconnect() error {
	err := h.command("disconnect", "disconnect")
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
	h.batch.Reset()
	return err
}

func triggerMode(immediate bool) string {
	if immediate {
		return "immediate"
	}
	return "handheld"
}

func (h *Handle) ConfigureTrigger(startImmediate bool, stopImmediate bool) error {
	return h.command("configure trigger",
		fmt.Sprintf("config trigger start=%s stop=%s", triggerMode(startImmediate), triggerMode(stopImmediate)))
}

// RegisterEventListener adds listener. The first listener switches the reader's
// notifications on.
func (h *Handle) RegisterEventListener(listener driver.EventListener) error {
	h.mu.Lock()
	first := len(h.listeners) == 0
	h.listeners = append(h.listeners, listener)
	h.mu.Unlock()

	if !first {
		return nil
	}
	if err := h.command("register listener", "config events tagread=on status=on"); err != nil {
		h.removeListener(listener)
		return err
	}
	return nil
}

func (h *Handle) UnregisterEventListener(listener driver.EventListener) error {
	if !h.removeListener(listener) {
		return nil
	}

	h.mu.Lock()
	last := len(h.listeners) == 0
	h.mu.Unlock()

	if !last {
		return nil
	}
	return h.command("unregister listener", "config events tagread=off status=off")
}

func (h *Handle) removeListener(listener driver.EventListener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l == listener {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (h *Handle) StartInventory() error {
	h.batch.Reset()
	return h.command("start inventory", "inventory")
}

func (h *Handle) StopInventory() error {
	return h.command("stop inventory", "abort")
}

func (h *Handle) FetchReadBatch(timeout time.Duration) ([]driver.TagData, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, errors.Wrap(rfiderror.ErrorClosed, "fetch read batch")
	}
	return h.batch.Fetch(timeout), nil
}

// Close releases the link. No disconnection event is emitted for a handle closed this way.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.connected = false
		h.mu.Unlock()

		err = h.link.Close()

		select {
		case <-h.done:
		case <-time.After(time.Second):
			h.logger.Warn().Msg("reader goroutine did not stop")
		}
	})
	return err
}
