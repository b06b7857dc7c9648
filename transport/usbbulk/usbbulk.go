// Package usbbulk talks to readers that expose the line protocol on a pair of USB bulk
// endpoints.
package usbbulk

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/driver/asciiproto"
	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/google/gousb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	VendorId  gousb.ID
	ProductId gousb.ID
	Config    int
	Interface int
}

var _ driver.Transport = (*Transport)(nil)

type Transport struct {
	cfg            Config
	commandTimeout time.Duration

	mu         sync.Mutex
	usbContext *gousb.Context
}

func TransportNew(cfg Config, commandTimeout time.Duration) *Transport {
	if cfg.Config == 0 {
		cfg.Config = 1
	}
	return &Transport{cfg: cfg, commandTimeout: commandTimeout}
}

func (t *Transport) Kind() driver.TransportKind {
	return driver.TransportUSB
}

func deviceId(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%d.%d", desc.Bus, desc.Address)
}

func (t *Transport) matches(desc *gousb.DeviceDesc) bool {
	if desc.Vendor != t.cfg.VendorId {
		return false
	}
	return t.cfg.ProductId == 0 || desc.Product == t.cfg.ProductId
}

func (t *Transport) context() *gousb.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usbContext == nil {
		t.usbContext = gousb.NewContext()
	}
	return t.usbContext
}

// Discover lists matching devices without opening them.
func (t *Transport) Discover() ([]driver.DiscoveredDevice, error) {
	var ids []string
	_, err := t.context().OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if t.matches(desc) {
			ids = append(ids, deviceId(desc))
		}
		return false
	})
	if err != nil {
		return nil, errors.Wrap(err, "enumerate usb devices")
	}
	sort.Strings(ids)

	devices := make([]driver.DiscoveredDevice, 0, len(ids))
	for _, id := range ids {
		id := id
		devices = append(devices, asciiproto.DeviceNew(id, func() (io.ReadWriteCloser, error) {
			return t.open(id)
		}, t.commandTimeout))
	}
	return devices, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usbContext == nil {
		return nil
	}
	err := t.usbContext.Close()
	t.usbContext = nil
	return err
}

func (t *Transport) open(id string) (io.ReadWriteCloser, error) {
	devs, err := t.context().OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return deviceId(desc) == id && t.matches(desc)
	})
	for i := 1; i < len(devs); i++ {
		_ = devs[i].Close()
	}
	if len(devs) == 0 {
		if err == nil {
			err = rfiderror.NewOperationFailure("open", "device "+id+" is gone")
		}
		return nil, errors.Wrapf(err, "open usb device %s", id)
	}
	dev := devs[0]

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debug().Err(err).Str("device", id).Msg("auto detach not available")
	}

	cfg, err := dev.Config(t.cfg.Config)
	if err != nil {
		_ = dev.Close()
		return nil, errors.Wrapf(err, "select config %d", t.cfg.Config)
	}

	intf, err := cfg.Interface(t.cfg.Interface, 0)
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		return nil, errors.Wrapf(err, "claim interface %d", t.cfg.Interface)
	}

	done := func() {
		intf.Close()
		_ = cfg.Close()
		_ = dev.Close()
	}

	inNum, outNum, err := bulkEndpoints(intf.Setting.Endpoints)
	if err != nil {
		done()
		return nil, err
	}

	in, err := intf.InEndpoint(inNum)
	if err != nil {
		done()
		return nil, errors.Wrap(err, "open bulk in endpoint")
	}
	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		done()
		return nil, errors.Wrap(err, "open bulk out endpoint")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &bulkLink{in: in, out: out, ctx: ctx, cancel: cancel, done: done}, nil
}

// bulkEndpoints picks the lowest numbered bulk endpoint of each direction.
func bulkEndpoints(endpoints map[gousb.EndpointAddress]gousb.EndpointDesc) (in int, out int, err error) {
	in, out = -1, -1
	for _, ep := range endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if in < 0 || ep.Number < in {
				in = ep.Number
			}
		case gousb.EndpointDirectionOut:
			if out < 0 || ep.Number < out {
				out = ep.Number
			}
		}
	}
	if in < 0 || out < 0 {
		return 0, 0, rfiderror.NewInvalidUsage("open", "interface has no bulk endpoint pair")
	}
	return in, out, nil
}

var _ io.ReadWriteCloser = (*bulkLink)(nil)

type bulkLink struct {
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	ctx    context.Context
	cancel context.CancelFunc
	done   func()
	once   sync.Once
}

func (l *bulkLink) Read(p []byte) (int, error) {
	return l.in.ReadContext(l.ctx, p)
}

func (l *bulkLink) Write(p []byte) (int, error) {
	return l.out.WriteContext(l.ctx, p)
}

func (l *bulkLink) Close() error {
	l.once.Do(func() {
		l.cancel()
		l.done()
	})
	return nil
}
