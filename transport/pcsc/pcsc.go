// Package pcsc turns PC/SC contactless readers into RFID readers. Every card placed on the
// reader during an inventory is reported by its UID.
package pcsc

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/ebfe/scard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// cardContext is the part of *scard.Context the transport needs.
type cardContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(readerStates []scard.ReaderState, timeout time.Duration) error
	Cancel() error
	Release() error
}

type Config struct {
	// ReaderFilter selects readers whose name contains it, case insensitive.
	ReaderFilter string
}

var _ driver.Transport = (*Transport)(nil)

type Transport struct {
	cfg       Config
	establish func() (cardContext, *scard.Context, error)

	mu  sync.Mutex
	ctx cardContext
}

func establish() (cardContext, *scard.Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, nil, err
	}
	return ctx, ctx, nil
}

func TransportNew(cfg Config) *Transport {
	return &Transport{cfg: cfg, establish: establish}
}

func (t *Transport) Kind() driver.TransportKind {
	return driver.TransportPCSC
}

func (t *Transport) context() (cardContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil {
		ctx, _, err := t.establish()
		if err != nil {
			return nil, errors.Wrap(err, "establish pcsc context")
		}
		t.ctx = ctx
	}
	return t.ctx, nil
}

func (t *Transport) Discover() ([]driver.DiscoveredDevice, error) {
	ctx, err := t.context()
	if err != nil {
		return nil, err
	}

	readers, err := ctx.ListReaders()
	if err == scard.ErrNoReadersAvailable {
		return nil, nil
	}
	if err != nil {
		t.reset()
		return nil, errors.Wrap(err, "list pcsc readers")
	}

	var devices []driver.DiscoveredDevice
	for _, reader := range readers {
		if !t.selects(reader) {
			log.Debug().Str("reader", reader).Msg("skipping pcsc reader")
			continue
		}
		devices = append(devices, &Device{reader: reader, establish: t.establish})
	}
	return devices, nil
}

func (t *Transport) selects(reader string) bool {
	return t.cfg.ReaderFilter == "" || strings.Contains(strings.ToLower(reader), strings.ToLower(t.cfg.ReaderFilter))
}

// reset drops a context that stopped working; the next discovery establishes a new one.
func (t *Transport) reset() {
	t.mu.Lock()
	ctx := t.ctx
	t.ctx = nil
	t.mu.Unlock()

	if ctx != nil {
		if err := ctx.Release(); err != nil {
			log.Debug().Err(err).Msg("could not release pcsc context")
		}
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil {
		return nil
	}
	err := t.ctx.Release()
	t.ctx = nil
	return err
}

var _ driver.DiscoveredDevice = (*Device)(nil)

type Device struct {
	reader    string
	establish func() (cardContext, *scard.Context, error)
}

func (d *Device) Id() string {
	return d.reader
}

// Open establishes a context of its own, so that an inventory can be cancelled without
// disturbing discovery.
func (d *Device) Open() (driver.DeviceHandle, error) {
	ctx, card, err := d.establish()
	if err != nil {
		return nil, errors.Wrap(err, "establish pcsc context")
	}
	return handleNew(d.reader, ctx, cardReader(card, d.reader)), nil
}

// getUidApdu asks the reader for the identifier of the card in its field.
var getUidApdu = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}

func cardReader(ctx *scard.Context, reader string) func() (string, error) {
	return func() (string, error) {
		if ctx == nil {
			return "", errors.New("no pcsc context")
		}
		card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			return "", errors.Wrap(err, "connect card")
		}
		defer func() {
			if err := card.Disconnect(scard.LeaveCard); err != nil {
				log.Debug().Err(err).Str("reader", reader).Msg("could not disconnect card")
			}
		}()

		rsp, err := card.Transmit(getUidApdu)
		if err != nil {
			return "", errors.Wrap(err, "transmit get uid")
		}
		return parseUid(rsp)
	}
}

// parseUid checks the status word and renders the UID as upper case hex.
func parseUid(rsp []byte) (string, error) {
	if len(rsp) < 2 {
		return "", errors.Errorf("short response: % x", rsp)
	}

	n := len(rsp)
	sw := uint16(rsp[n-2])<<8 | uint16(rsp[n-1])
	if sw != 0x9000 {
		return "", errors.Errorf("get uid failed with status %04X", sw)
	}
	if n == 2 {
		return "", errors.New("card returned an empty uid")
	}
	return strings.ToUpper(hex.EncodeToString(rsp[:n-2])), nil
}
