package driver

import (
	"sync"

	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Transport discovers readers over one kind of link.
type Transport interface {
	Kind() TransportKind
	Discover() ([]DiscoveredDevice, error)
	Close() error
}

var _ Driver = (*multiDriver)(nil)

type multiDriver struct {
	mu         sync.Mutex
	transports map[TransportKind]Transport
	closed     bool
}

// MultiDriverNew combines transports into a single Driver. A later transport of the same
// kind replaces an earlier one.
func MultiDriverNew(transports ...Transport) Driver {
	drv := &multiDriver{transports: make(map[TransportKind]Transport)}
	for _, t := range transports {
		if t == nil {
			continue
		}
		drv.transports[t.Kind()] = t
	}
	return drv
}

func (drv *multiDriver) Discover(kind TransportKind) ([]DiscoveredDevice, error) {
	drv.mu.Lock()
	if drv.closed {
		drv.mu.Unlock()
		return nil, rfiderror.ErrorClosed
	}
	t, ok := drv.transports[kind]
	drv.mu.Unlock()

	if !ok {
		return nil, errors.Wrap(rfiderror.ErrorTransportAbsent, kind.String())
	}

	devices, err := t.Discover()
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", kind)
	}
	return devices, nil
}

func (drv *multiDriver) Close() error {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	if drv.closed {
		return nil
	}
	drv.closed = true

	var firstErr error
	for kind, t := range drv.transports {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("transport", kind.String()).Msg("could not close transport")
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "close %s", kind)
			}
		}
	}
	return firstErr
}
