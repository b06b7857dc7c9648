// Package probe finds a reader by trying transports one after another.
package probe

import (
	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Outcome int

const (
	_                     = iota
	OutcomeFound  Outcome = iota
	OutcomeEmpty  Outcome = iota
	OutcomeFailed Outcome = iota
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Attempt is the result of discovering over a single transport.
type Attempt struct {
	Kind    driver.TransportKind
	Devices []driver.DiscoveredDevice
	Err     error
}

func (a Attempt) Outcome() Outcome {
	if a.Err != nil {
		return OutcomeFailed
	}
	if len(a.Devices) == 0 {
		return OutcomeEmpty
	}
	return OutcomeFound
}

type Result struct {
	Kind     driver.TransportKind
	Device   driver.DiscoveredDevice
	Attempts []Attempt
}

// Probe walks order and stops at the first transport that reports at least one device.
// Failing transports count as empty. The first device of that transport is selected.
// When no transport yields a device the error is rfiderror.ErrorNoReaderFound.
func Probe(drv driver.Driver, order []driver.TransportKind) (Result, error) {
	if len(order) == 0 {
		order = driver.DefaultTransportOrder
	}

	var result Result
	for _, kind := range order {
		a := Discover(drv, kind)
		result.Attempts = append(result.Attempts, a)

		evt := log.Debug().Str("transport", kind.String()).Str("outcome", a.Outcome().String())
		switch a.Outcome() {
		case OutcomeFailed:
			evt.Err(a.Err).Msg("transport probe")
			continue
		case OutcomeEmpty:
			evt.Msg("transport probe")
			continue
		}

		result.Kind = kind
		result.Device = a.Devices[0]
		evt.Int("devices", len(a.Devices)).Str("device", result.Device.Id()).Msg("transport probe")
		return result, nil
	}

	return result, rfiderror.ErrorNoReaderFound
}

// Discover runs a single discovery. A panicking transport is reported as failed.
func Discover(drv driver.Driver, kind driver.TransportKind) (a Attempt) {
	a.Kind = kind
	defer func() {
		if r := recover(); r != nil {
			a.Devices = nil
			a.Err = errors.Errorf("discovery panicked: %v", r)
		}
	}()

	a.Devices, a.Err = drv.Discover(kind)
	return a
}
