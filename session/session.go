// Package session drives one RFID reader on behalf of a single consumer.
//
// Every command is queued onto a per-session worker goroutine, which is the only goroutine
// that touches the driver, the device handle and the session state. Outcomes and hardware
// events are handed to the consumer through its Callback, always on the session's Dispatcher.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/probe"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DriverFactory allocates the driver resource. It is called by Initialize.
type DriverFactory func() (driver.Driver, error)

type ReaderSession interface {
	Initialize()
	Connect()
	StartInventory()
	StopInventory()
	Disconnect()
	IsConnected() bool
	IsScanning() bool
	State() State
	Id() string
	// Close discards the session for good. Queued commands still run, then a reader that is
	// still held is torn down like Disconnect does, without any callback.
	Close()
}

type Option func(s *readerSession)

func WithTransportOrder(order ...driver.TransportKind) Option {
	return func(s *readerSession) {
		if len(order) > 0 {
			s.order = append([]driver.TransportKind(nil), order...)
		}
	}
}

func WithReadTimeout(timeout time.Duration) Option {
	return func(s *readerSession) {
		if timeout > 0 {
			s.readTimeout = timeout
		}
	}
}

func WithReadPolicy(policy ReadPolicy) Option {
	return func(s *readerSession) {
		s.readPolicy = policy
	}
}

func WithDispatcher(dispatcher Dispatcher) Option {
	return func(s *readerSession) {
		s.delivery = dispatcher
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *readerSession) {
		s.logger = logger
	}
}

var _ ReaderSession = (*readerSession)(nil)

type readerSession struct {
	id          string
	logger      zerolog.Logger
	newDriver   DriverFactory
	callback    Callback
	order       []driver.TransportKind
	readTimeout time.Duration
	readPolicy  ReadPolicy
	delivery    Dispatcher
	ownDelivery *LoopDispatcher
	worker      *worker
	cancel      context.CancelFunc
	closeOnce   sync.Once

	// owned by the worker goroutine
	states *fsm.FSM
	drv    driver.Driver
	handle driver.DeviceHandle
	bridge *eventBridge

	state     atomic.Value
	connected atomic.Bool
	scanning  atomic.Bool
}

func ReaderSessionNew(ctx context.Context, newDriver DriverFactory, callback Callback, opts ...Option) (ReaderSession, error) {
	if newDriver == nil {
		return nil, errors.New("driver factory is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &readerSession{
		id:          uuid.NewString(),
		logger:      log.Logger,
		newDriver:   newDriver,
		callback:    callback,
		order:       driver.DefaultTransportOrder,
		readTimeout: DefaultReadTimeout,
		readPolicy:  FirstOfBatch,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With().Str("session", s.id).Logger()
	if s.delivery == nil {
		s.ownDelivery = LoopDispatcherNew(ctx)
		s.delivery = s.ownDelivery
	}
	s.initFsm()
	s.worker = workerNew(ctx, "session-"+s.id)

	return s, nil
}

func (s *readerSession) Id() string {
	return s.id
}

func (s *readerSession) State() State {
	return s.state.Load().(State)
}

func (s *readerSession) IsConnected() bool {
	return s.connected.Load()
}

func (s *readerSession) IsScanning() bool {
	return s.scanning.Load()
}

func (s *readerSession) Initialize() {
	s.submit("initialize", s.initialize)
}

func (s *readerSession) Connect() {
	s.submit("connect", s.connect)
}

func (s *readerSession) StartInventory() {
	s.submit("start inventory", s.startInventory)
}

func (s *readerSession) StopInventory() {
	s.submit("stop inventory", s.stopInventory)
}

func (s *readerSession) Disconnect() {
	s.submit("disconnect", s.disconnect)
}

func (s *readerSession) Close() {
	s.closeOnce.Do(func() {
		s.worker.Close()
		<-s.worker.Done()
		// the worker is gone, nothing else touches the session state now
		s.discard()
		if s.ownDelivery != nil {
			s.ownDelivery.Close()
		}
		s.cancel()
		s.logger.Debug().Msg("session closed")
	})
}

func (s *readerSession) submit(name string, task func()) {
	if !s.worker.Submit(task) {
		s.logger.Warn().Str("command", name).Msg("session is closed, dropping command")
	}
}

func (s *readerSession) post(fn func(cb Callback)) {
	cb := s.callback
	s.delivery.Post(func() { fn(cb) })
}

func (s *readerSession) initialize() {
	if s.drv != nil {
		s.logger.Debug().Msg("driver already initialized")
		return
	}

	var drv driver.Driver
	err := callDriver(func() (err error) {
		drv, err = s.newDriver()
		return err
	})
	if err == nil && drv == nil {
		err = errors.New("driver factory returned no driver")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("init failed")
		message := rfiderror.InitMessage(err)
		s.post(func(cb Callback) { cb.OnConnectionError(message) })
		return
	}

	s.drv = drv
	s.event(evInitialized)
}

func (s *readerSession) connect() {
	if s.handle != nil {
		if s.connected.Load() && isConnected(s.handle) {
			s.logger.Debug().Msg("reader already connected")
			s.post(func(cb Callback) { cb.OnConnected() })
			return
		}
		wasScanning := s.scanning.Load()
		s.event(evConnectionLost)
		s.releaseHandle(wasScanning)
	}

	if s.drv == nil {
		s.post(func(cb Callback) { cb.OnConnectionError(rfiderror.ErrorNotInitialized.Error()) })
		return
	}

	s.event(evConnect)

	result, err := probe.Probe(s.drv, s.order)
	if err != nil {
		s.logger.Warn().Err(err).Msg("no reader found")
		s.event(evNoReader)
		message := rfiderror.ConnectMessage(err)
		s.post(func(cb Callback) { cb.OnConnectionError(message) })
		return
	}

	logger := s.logger.With().Str("transport", result.Kind.String()).Str("device", result.Device.Id()).Logger()

	handle, err := openDevice(result.Device)
	if err == nil {
		if isConnected(handle) {
			logger.Info().Msg("reader reports it is already connected")
		} else if err = callDriver(handle.Connect); err != nil {
			closeLink(handle)
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("connect failed")
		s.event(evConnectFailed)
		message := rfiderror.ConnectMessage(err)
		s.post(func(cb Callback) { cb.OnConnectionError(message) })
		return
	}

	s.handle = handle
	s.configure(logger)
	s.event(evConnected)
	logger.Info().Msg("reader connected")
	s.post(func(cb Callback) { cb.OnConnected() })
}

// configure registers the event bridge and sets up the triggers. Failures are logged only,
// the reader stays usable with its current configuration.
func (s *readerSession) configure(logger zerolog.Logger) {
	handle := s.handle
	bridge := &eventBridge{
		handle:  handle,
		timeout: s.readTimeout,
		policy:  s.readPolicy,
		post:    s.post,
		logger:  logger,
	}

	if err := callDriver(func() error { return handle.RegisterEventListener(bridge) }); err != nil {
		logger.Error().Err(err).Msg("could not register event listener")
	} else {
		s.bridge = bridge
	}

	if err := callDriver(func() error { return handle.ConfigureTrigger(true, true) }); err != nil {
		logger.Error().Err(err).Msg("could not configure triggers")
	}
}

func (s *readerSession) startInventory() {
	state := s.current()
	if s.handle == nil || (state != StateConnected && state != StateScanning) {
		s.post(func(cb Callback) { cb.OnError(rfiderror.ErrorNotConnected.Error()) })
		return
	}

	if !isConnected(s.handle) {
		s.logger.Warn().Msg("reader lost its connection")
		s.event(evConnectionLost)
		s.post(func(cb Callback) { cb.OnError(rfiderror.ErrorNotConnected.Error()) })
		return
	}

	if err := callDriver(s.handle.StartInventory); err != nil {
		s.logger.Error().Err(err).Msg("start inventory failed")
		message := rfiderror.StartMessage(err)
		s.post(func(cb Callback) { cb.OnError(message) })
		return
	}

	s.event(evInventoryStarted)
	s.post(func(cb Callback) { cb.OnInventoryStarted() })
}

func (s *readerSession) stopInventory() {
	if s.scanning.Load() && s.handle != nil {
		if err := callDriver(s.handle.StopInventory); err != nil {
			s.logger.Warn().Err(err).Msg("stop inventory failed")
		}
	}

	s.event(evInventoryStopped)
	s.post(func(cb Callback) { cb.OnInventoryStopped() })
}

func (s *readerSession) disconnect() {
	s.teardown()
	s.post(func(cb Callback) { cb.OnDisconnected() })
}

// discard releases what a closed session still holds. No callback is posted.
func (s *readerSession) discard() {
	if s.handle == nil && s.drv == nil {
		return
	}
	s.teardown()
	s.logger.Debug().Msg("released reader on close")
}

func (s *readerSession) teardown() {
	wasScanning := s.scanning.Load()

	s.event(evDisconnect)
	s.releaseHandle(wasScanning)

	if s.drv != nil {
		bestEffort(s.logger, "release driver", s.drv.Close)
		s.drv = nil
	}

	s.event(evDisconnected)
}

// releaseHandle tears the handle down step by step. A failing step never prevents the
// following ones.
func (s *readerSession) releaseHandle(stopInventory bool) {
	handle := s.handle
	if handle == nil {
		return
	}
	bridge := s.bridge
	s.handle = nil
	s.bridge = nil

	if stopInventory {
		bestEffort(s.logger, "stop inventory", handle.StopInventory)
	}
	if bridge != nil {
		bridge.detach()
		bestEffort(s.logger, "unregister event listener", func() error {
			return handle.UnregisterEventListener(bridge)
		})
	}
	bestEffort(s.logger, "disconnect reader", func() error {
		if !handle.IsConnected() {
			return nil
		}
		return handle.Disconnect()
	})
	closeLink(handle)
}

func openDevice(device driver.DiscoveredDevice) (handle driver.DeviceHandle, err error) {
	err = callDriver(func() (err error) {
		handle, err = device.Open()
		return err
	})
	if err == nil && handle == nil {
		err = errors.New("device returned no handle")
	}
	return handle, err
}

// callDriver turns a driver panic into an error.
func callDriver(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("driver panicked: %v", r)
		}
	}()
	return fn()
}

func isConnected(handle driver.DeviceHandle) (connected bool) {
	defer func() {
		if r := recover(); r != nil {
			connected = false
		}
	}()
	return handle.IsConnected()
}

func bestEffort(logger zerolog.Logger, step string, fn func() error) {
	if err := callDriver(fn); err != nil {
		logger.Warn().Err(err).Str("step", step).Msg("teardown step failed")
	}
}

// closeLink releases the underlying link of handles that own one.
func closeLink(handle driver.DeviceHandle) {
	closer, ok := handle.(io.Closer)
	if !ok {
		return
	}
	if err := callDriver(closer.Close); err != nil {
		log.Debug().Err(err).Str("handle", fmt.Sprintf("%T", handle)).Msg("could not close link")
	}
}
