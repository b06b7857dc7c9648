package session

import (
	"strings"
	"sync"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ReadPolicy decides which identifiers of a read batch reach OnEpcRead.
type ReadPolicy int

const (
	_                       = iota
	FirstOfBatch ReadPolicy = iota
	WholeBatch   ReadPolicy = iota
)

func (p ReadPolicy) String() string {
	switch p {
	case FirstOfBatch:
		return "first"
	case WholeBatch:
		return "all"
	}
	return "unknown"
}

func ParseReadPolicy(name string) (ReadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "first":
		return FirstOfBatch, nil
	case "all", "batch":
		return WholeBatch, nil
	}
	return 0, errors.Errorf("unknown read policy %q", name)
}

// DefaultReadTimeout bounds the wait for read results after a read notification.
const DefaultReadTimeout = 100 * time.Millisecond

var _ driver.EventListener = (*eventBridge)(nil)

// eventBridge runs on the driver's notification goroutine. It only reads from the handle and
// posts to the delivery context; it never touches session state.
type eventBridge struct {
	handle  driver.DeviceHandle
	timeout time.Duration
	policy  ReadPolicy
	post    func(fn func(cb Callback))
	logger  zerolog.Logger

	mu       sync.Mutex
	detached bool
}

// detach stops all further posts. Once it returns, nothing the bridge posts can follow what
// the caller posts next.
func (b *eventBridge) detach() {
	b.mu.Lock()
	b.detached = true
	b.mu.Unlock()
}

func (b *eventBridge) isDetached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

// deliver posts fn unless the bridge has been detached, which may happen while a fetch waits.
func (b *eventBridge) deliver(fn func(cb Callback)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return false
	}
	b.post(fn)
	return true
}

func (b *eventBridge) ReadNotify(event driver.ReadEvent) {
	if b.isDetached() {
		return
	}

	var batch []driver.TagData
	err := callDriver(func() (err error) {
		batch, err = b.handle.FetchReadBatch(b.timeout)
		return err
	})
	if err != nil {
		b.logger.Warn().Err(err).Msg("could not fetch read batch")
		message := rfiderror.ReadMessage(err)
		b.deliver(func(cb Callback) { cb.OnError(message) })
		return
	}

	for _, epc := range b.selectIds(batch) {
		epc := epc
		if !b.deliver(func(cb Callback) { cb.OnEpcRead(epc) }) {
			b.logger.Debug().Str("epc", epc).Msg("dropping read after detach")
			return
		}
	}
}

func (b *eventBridge) selectIds(batch []driver.TagData) []string {
	if len(batch) == 0 {
		return nil
	}

	if b.policy != WholeBatch {
		if batch[0].TagID == "" {
			return nil
		}
		return []string{batch[0].TagID}
	}

	ids := make([]string, 0, len(batch))
	for _, tag := range batch {
		if tag.TagID != "" {
			ids = append(ids, tag.TagID)
		}
	}
	return ids
}

func (b *eventBridge) StatusNotify(event driver.StatusEvent) {
	if b.isDetached() {
		return
	}

	typeName := string(event.Type)
	if typeName == "" {
		typeName = "UNKNOWN"
	}
	b.logger.Debug().Str("status", typeName).Msg("status event")

	if strings.Contains(strings.ToUpper(typeName), "DISCONNECTION") {
		b.deliver(func(cb Callback) { cb.OnDisconnected() })
	}
}
