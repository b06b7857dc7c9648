package rfiderror

import (
	"fmt"

	"github.com/pkg/errors"
)

type ReaderError uint32

const (
	_                                = iota
	ErrorNotInitialized  ReaderError = iota
	ErrorNotConnected    ReaderError = iota
	ErrorNoReaderFound   ReaderError = iota
	ErrorTransportAbsent ReaderError = iota
	ErrorClosed          ReaderError = iota
)

func (e ReaderError) Error() string {
	switch e {
	case ErrorNotInitialized:
		return "Reader not initialized"
	case ErrorNotConnected:
		return "Reader not connected"
	case ErrorNoReaderFound:
		return "No RFID reader found"
	case ErrorTransportAbsent:
		return "Transport not available"
	case ErrorClosed:
		return "Reader handle closed"
	}
	return "unknown error"
}

// DriverErrorKind distinguishes the two failure categories reported by reader hardware.
type DriverErrorKind int

const (
	_                                = iota
	InvalidUsage     DriverErrorKind = iota
	OperationFailure DriverErrorKind = iota
)

func (k DriverErrorKind) String() string {
	switch k {
	case InvalidUsage:
		return "invalid usage"
	case OperationFailure:
		return "operation failure"
	}
	return "unknown"
}

// DriverError is returned by device drivers. VendorMessage carries the text reported by the
// reader itself, if any.
type DriverError struct {
	Kind          DriverErrorKind
	Op            string
	VendorMessage string
}

func (e *DriverError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.VendorMessage)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.VendorMessage)
}

func NewInvalidUsage(op string, message string) error {
	return &DriverError{Kind: InvalidUsage, Op: op, VendorMessage: message}
}

func NewOperationFailure(op string, message string) error {
	return &DriverError{Kind: OperationFailure, Op: op, VendorMessage: message}
}

// AsDriverError finds a DriverError anywhere in the wrap chain of err.
func AsDriverError(err error) (*DriverError, bool) {
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		return driverErr, true
	}
	return nil, false
}

func IsKind(err error, kind DriverErrorKind) bool {
	driverErr, ok := AsDriverError(err)
	return ok && driverErr.Kind == kind
}

// ConnectMessage renders a connect failure for the consumer.
func ConnectMessage(err error) string {
	if readerErr, ok := errors.Cause(err).(ReaderError); ok {
		return readerErr.Error()
	}
	if driverErr, ok := AsDriverError(err); ok {
		switch driverErr.Kind {
		case InvalidUsage:
			return "Invalid usage: " + driverErr.VendorMessage
		case OperationFailure:
			return "Connection failed: " + driverErr.VendorMessage
		}
	}
	return "Connect failed: " + err.Error()
}

func StartMessage(err error) string {
	return "Start scan failed: " + detail(err)
}

func ReadMessage(err error) string {
	return "Read failed: " + detail(err)
}

func InitMessage(err error) string {
	return "SDK init failed: " + err.Error()
}

func detail(err error) string {
	if driverErr, ok := AsDriverError(err); ok && driverErr.VendorMessage != "" {
		return driverErr.VendorMessage
	}
	return err.Error()
}
