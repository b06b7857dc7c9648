package session

// Callback receives every outcome of a ReaderSession. All methods are invoked on the
// session's Dispatcher.
type Callback interface {
	OnConnected()
	OnDisconnected()
	OnConnectionError(message string)
	OnEpcRead(epc string)
	OnInventoryStarted()
	OnInventoryStopped()
	OnError(message string)
}

var _ Callback = Callbacks{}

// Callbacks adapts plain functions to Callback. Nil fields are skipped.
type Callbacks struct {
	Connected        func()
	Disconnected     func()
	ConnectionError  func(message string)
	EpcRead          func(epc string)
	InventoryStarted func()
	InventoryStopped func()
	Error            func(message string)
}

func (c Callbacks) OnConnected() {
	if c.Connected != nil {
		c.Connected()
	}
}

func (c Callbacks) OnDisconnected() {
	if c.Disconnected != nil {
		c.Disconnected()
	}
}

func (c Callbacks) OnConnectionError(message string) {
	if c.ConnectionError != nil {
		c.ConnectionError(message)
	}
}

func (c Callbacks) OnEpcRead(epc string) {
	if c.EpcRead != nil {
		c.EpcRead(epc)
	}
}

func (c Callbacks) OnInventoryStarted() {
	if c.InventoryStarted != nil {
		c.InventoryStarted()
	}
}

func (c Callbacks) OnInventoryStopped() {
	if c.InventoryStopped != nil {
		c.InventoryStopped()
	}
}

func (c Callbacks) OnError(message string) {
	if c.Error != nil {
		c.Error(message)
	}
}
