// Package fakedriver is an in-memory driver.Driver whose devices can be scripted to fail,
// panic or block, and which records every call made against it.
package fakedriver

import (
	"io"
	"sync"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
)

const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpConfigure  = "configure"
	OpRegister   = "register"
	OpUnregister = "unregister"
	OpStart      = "start"
	OpStop       = "stop"
	OpFetch      = "fetch"
	OpClose      = "close"
)

var _ driver.Driver = (*Driver)(nil)

type Driver struct {
	mu          sync.Mutex
	devices     map[driver.TransportKind][]*Device
	discoverErr map[driver.TransportKind]error
	discovered  []driver.TransportKind
	closeErr    error
	closed      int
}

func New() *Driver {
	return &Driver{
		devices:     make(map[driver.TransportKind][]*Device),
		discoverErr: make(map[driver.TransportKind]error),
	}
}

func (d *Driver) AddDevice(kind driver.TransportKind, device *Device) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[kind] = append(d.devices[kind], device)
	return d
}

func (d *Driver) FailDiscovery(kind driver.TransportKind, err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discoverErr[kind] = err
	return d
}

func (d *Driver) FailClose(err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
	return d
}

func (d *Driver) Discover(kind driver.TransportKind) ([]driver.DiscoveredDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discovered = append(d.discovered, kind)
	if err := d.discoverErr[kind]; err != nil {
		return nil, err
	}
	var result []driver.DiscoveredDevice
	for _, dev := range d.devices[kind] {
		result = append(result, dev)
	}
	return result, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return d.closeErr
}

func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Discovered lists the transports in the order they were probed.
func (d *Driver) Discovered() []driver.TransportKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]driver.TransportKind(nil), d.discovered...)
}

// ConnectedHandles counts devices whose handle is currently connected.
func (d *Driver) ConnectedHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, devices := range d.devices {
		for _, dev := range devices {
			if dev.handle.IsConnected() {
				count++
			}
		}
	}
	return count
}

var _ driver.DiscoveredDevice = (*Device)(nil)

// Device hands out a new Link per Open. All links of a device share one scripted Handle.
type Device struct {
	id      string
	handle  *Handle
	mu      sync.Mutex
	openErr error
	opened  int
	closed  int
	maxOpen int
}

func NewDevice(id string) *Device {
	return &Device{id: id, handle: NewHandle()}
}

func (dev *Device) Id() string {
	return dev.id
}

func (dev *Device) Handle() *Handle {
	return dev.handle
}

func (dev *Device) FailOpen(err error) *Device {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.openErr = err
	return dev
}

func (dev *Device) Opened() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.opened
}

// Closed counts the links released with Close.
func (dev *Device) Closed() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closed
}

func (dev *Device) OpenLinks() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.openLinks()
}

// MaxOpenLinks is the largest number of links that were open at the same time.
func (dev *Device) MaxOpenLinks() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.maxOpen
}

func (dev *Device) openLinks() int {
	return dev.opened - dev.closed
}

func (dev *Device) Open() (driver.DeviceHandle, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.openErr != nil {
		return nil, dev.openErr
	}
	dev.opened++
	if n := dev.openLinks(); n > dev.maxOpen {
		dev.maxOpen = n
	}
	return &Link{Handle: dev.handle, dev: dev}, nil
}

func (dev *Device) release() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.closed++
}

var _ driver.DeviceHandle = (*Link)(nil)
var _ io.Closer = (*Link)(nil)

// Link is one opened connection to a Device. Closing it drops the connection; a second Close
// is a no-op.
type Link struct {
	*Handle
	dev  *Device
	once sync.Once
}

func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		defer l.dev.release()
		defer l.SetConnected(false)
		err = l.enter(OpClose)
	})
	return err
}

var _ driver.DeviceHandle = (*Handle)(nil)

type Handle struct {
	mu        sync.Mutex
	connected bool
	calls     []string
	errs      map[string]error
	panics    map[string]bool
	gates     map[string]chan struct{}
	listeners []driver.EventListener
	batch     []driver.TagData
	triggers  [2]bool
}

func NewHandle() *Handle {
	return &Handle{
		errs:   make(map[string]error),
		panics: make(map[string]bool),
		gates:  make(map[string]chan struct{}),
	}
}

func (h *Handle) FailOn(op string, err error) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[op] = err
	return h
}

func (h *Handle) PanicOn(op string) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics[op] = true
	return h
}

// BlockOn makes op wait until the returned release function is called.
func (h *Handle) BlockOn(op string) (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gates[op] = gate
	h.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (h *Handle) SetConnected(connected bool) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
	return h
}

func (h *Handle) SetBatch(tagIDs ...string) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batch = nil
	for _, id := range tagIDs {
		h.batch = append(h.batch, driver.TagData{TagID: id})
	}
	return h
}

func (h *Handle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *Handle) CallCount(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, call := range h.calls {
		if call == op {
			count++
		}
	}
	return count
}

func (h *Handle) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Handle) Triggers() (startImmediate bool, stopImmediate bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.triggers[0], h.triggers[1]
}

// EmitRead delivers a read notification to every registered listener on the calling
// goroutine, which plays the role of the driver's notification goroutine.
func (h *Handle) EmitRead() {
	h.mu.Lock()
	count := len(h.batch)
	listeners := append([]driver.EventListener(nil), h.listeners...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.ReadNotify(driver.ReadEvent{Count: count})
	}
}

func (h *Handle) EmitStatus(eventType driver.StatusEventType) {
	h.mu.Lock()
	listeners := append([]driver.EventListener(nil), h.listeners...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.StatusNotify(driver.StatusEvent{Type: eventType})
	}
}

func (h *Handle) enter(op string) error {
	h.mu.Lock()
	h.calls = append(h.calls, op)
	gate := h.gates[op]
	shouldPanic := h.panics[op]
	err := h.errs[op]
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if shouldPanic {
		panic("fakedriver: " + op)
	}
	return err
}

func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Handle) Connect() error {
	if err := h.enter(OpConnect); err != nil {
		return err
	}
	h.SetConnected(true)
	return nil
}

func (h *Handle) Disconnect() error {
	if err := h.enter(OpDisconnect); err != nil {
		return err
	}
	h.SetConnected(false)
	return nil
}

func (h *Handle) ConfigureTrigger(startImmediate bool, stopImmediate bool) error {
	if err := h.enter(OpConfigure); err != nil {
		return err
	}
	h.mu.Lock()
	h.triggers = [2]bool{startImmediate, stopImmediate}
	h.mu.Unlock()
	return nil
}

func (h *Handle) RegisterEventListener(listener driver.EventListener) error {
	if err := h.enter(OpRegister); err != nil {
		return err
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, listener)
	h.mu.Unlock()
	return nil
}

func (h *Handle) UnregisterEventListener(listener driver.EventListener) error {
	if err := h.enter(OpUnregister); err != nil {
		return err
	}
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
	return h.enter(OpStart)
}

func (h *Handle) StopInventory() error {
	return h.enter(OpStop)
}

func (h *Handle) FetchReadBatch(timeout time.Duration) ([]driver.TagData, error) {
	if err := h.enter(OpFetch); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := h.batch
	h.batch = nil
	return batch, nil
}
