// Package hotplug reports USB readers being plugged in and removed.
package hotplug

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/gousb"
	"github.com/jochenvg/go-udev"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Presence int

const (
	_                = iota
	Present Presence = iota
	Removed Presence = iota
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is a change of a USB device. Id is "<bus>.<address>", the same id the usb transport
// reports.
type Event struct {
	Presence Presence
	Id       string
	Vendor   gousb.ID
	Product  gousb.ID
}

// Filter selects the devices a Monitor reports.
type Filter func(vendor gousb.ID, product gousb.ID) bool

// VendorFilter matches vendor and, unless product is 0, product.
func VendorFilter(vendor gousb.ID, product gousb.ID) Filter {
	return func(v gousb.ID, p gousb.ID) bool {
		return v == vendor && (product == 0 || p == product)
	}
}

type Monitor interface {
	// Events reports the devices present at start, then every change. It is closed when the
	// monitor stops.
	Events() <-chan Event
	Close() error
}

var _ Monitor = (*udevMonitor)(nil)

type udevMonitor struct {
	ctx        context.Context
	cancel     context.CancelFunc
	filter     Filter
	usbContext *gousb.Context
	known      map[string]Event
	out        chan Event
	done       chan struct{}
}

func UdevMonitorNew(ctx context.Context, filter Filter) (Monitor, error) {
	ctx, cancel := context.WithCancel(ctx)

	u := udev.Udev{}
	m := u.NewMonitorFromNetlink("udev")
	if err := m.FilterAddMatchSubsystem("usb"); err != nil {
		cancel()
		return nil, errors.Wrap(err, "filter usb subsystem")
	}

	ch, err := m.DeviceChan(ctx)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "monitor udev")
	}

	mon := &udevMonitor{
		ctx:        ctx,
		cancel:     cancel,
		filter:     filter,
		usbContext: gousb.NewContext(),
		known:      make(map[string]Event),
		out:        make(chan Event),
		done:       make(chan struct{}),
	}

	go mon.run(ch)

	return mon, nil
}

func (mon *udevMonitor) Events() <-chan Event {
	return mon.out
}

func (mon *udevMonitor) Close() error {
	mon.cancel()
	<-mon.done
	return mon.usbContext.Close()
}

func (mon *udevMonitor) run(ch <-chan *udev.Device) {
	defer close(mon.done)
	defer close(mon.out)

	if !mon.check() {
		return
	}

	for {
		select {
		case <-mon.ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			action := d.Action()
			if action != "add" && action != "remove" {
				continue
			}
			log.Debug().Str("action", action).Str("devpath", d.Devpath()).Msg("udev event")
			if !mon.check() {
				return
			}
		}
	}
}

// check enumerates the bus and emits the difference to the last enumeration. It returns false
// once the monitor is stopping.
func (mon *udevMonitor) check() bool {
	found, err := mon.enumerate()
	if err != nil {
		log.Warn().Err(err).Msg("could not enumerate usb devices")
		return true
	}

	for _, event := range diffDevices(mon.known, found) {
		select {
		case mon.out <- event:
		case <-mon.ctx.Done():
			return false
		}
	}
	mon.known = found
	return true
}

func (mon *udevMonitor) enumerate() (map[string]Event, error) {
	found := make(map[string]Event)
	_, err := mon.usbContext.OpenDevices(func(d *gousb.DeviceDesc) bool {
		if mon.filter != nil && !mon.filter(d.Vendor, d.Product) {
			return false
		}
		id := fmt.Sprintf("%d.%d", d.Bus, d.Address)
		found[id] = Event{Id: id, Vendor: d.Vendor, Product: d.Product}
		return false
	})
	return found, err
}

// diffDevices lists removals first, then arrivals, each ordered by id.
func diffDevices(known map[string]Event, found map[string]Event) []Event {
	var removed, added []Event
	for id, d := range known {
		if _, ok := found[id]; !ok {
			d.Presence = Removed
			removed = append(removed, d)
		}
	}
	for id, d := range found {
		if _, ok := known[id]; !ok {
			d.Presence = Present
			added = append(added, d)
		}
	}

	byId := func(events []Event) {
		sort.Slice(events, func(i, j int) bool { return events[i].Id < events[j].Id })
	}
	byId(removed)
	byId(added)

	return append(removed, added...)
}
