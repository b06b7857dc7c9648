// Package transport assembles the configured transports into a driver.Driver.
package transport

import (
	"github.com/MeneDev/rfid-reader/config"
	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/session"
	"github.com/MeneDev/rfid-reader/transport/pcsc"
	"github.com/MeneDev/rfid-reader/transport/rfcomm"
	"github.com/MeneDev/rfid-reader/transport/serialport"
	"github.com/MeneDev/rfid-reader/transport/usbbulk"
	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// New creates one transport per kind in cfg.Transports.
func New(cfg *config.Config) ([]driver.Transport, error) {
	order, err := cfg.TransportOrder()
	if err != nil {
		return nil, err
	}

	var transports []driver.Transport
	seen := make(map[driver.TransportKind]bool)
	for _, kind := range order {
		if seen[kind] {
			continue
		}
		seen[kind] = true

		t, err := newTransport(kind, cfg)
		if err != nil {
			for _, created := range transports {
				_ = created.Close()
			}
			return nil, err
		}
		transports = append(transports, t)
	}
	return transports, nil
}

func newTransport(kind driver.TransportKind, cfg *config.Config) (driver.Transport, error) {
	switch kind {
	case driver.TransportSerial:
		return serialport.TransportNew(serialport.Config{
			BaudRate:  cfg.Serial.BaudRate,
			Ports:     cfg.Serial.Ports,
			VendorId:  cfg.Serial.VendorId,
			ProductId: cfg.Serial.ProductId,
		}, cfg.CommandTimeout), nil
	case driver.TransportBluetooth:
		peers := make([]rfcomm.Peer, 0, len(cfg.Bluetooth.Devices))
		for _, d := range cfg.Bluetooth.Devices {
			addr, err := rfcomm.ParseAddress(d.Address)
			if err != nil {
				return nil, err
			}
			peers = append(peers, rfcomm.Peer{Address: addr, Channel: d.Channel})
		}
		return rfcomm.TransportNew(peers, cfg.CommandTimeout), nil
	case driver.TransportUSB:
		return usbbulk.TransportNew(usbbulk.Config{
			VendorId:  gousb.ID(cfg.Usb.VendorId),
			ProductId: gousb.ID(cfg.Usb.ProductId),
			Config:    cfg.Usb.Config,
			Interface: cfg.Usb.Interface,
		}, cfg.CommandTimeout), nil
	case driver.TransportPCSC:
		return pcsc.TransportNew(pcsc.Config{ReaderFilter: cfg.Pcsc.ReaderFilter}), nil
	}
	return nil, errors.Errorf("unsupported transport %s", kind)
}

// DriverFactory defers opening the transports until the session initializes.
func DriverFactory(cfg *config.Config) session.DriverFactory {
	return func() (driver.Driver, error) {
		transports, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return driver.MultiDriverNew(transports...), nil
	}
}
