// Package rfcomm reaches paired Bluetooth readers over RFCOMM sockets.
package rfcomm

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MeneDev/rfid-reader/driver"
	"github.com/MeneDev/rfid-reader/driver/asciiproto"
	"github.com/pkg/errors"
)

// DefaultChannel is the RFCOMM channel of the serial port profile on most readers.
const DefaultChannel = 1

// Address is a Bluetooth device address in display order.
type Address [6]byte

func ParseAddress(s string) (Address, error) {
	var addr Address
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(addr) {
		return addr, errors.Errorf("invalid bluetooth address %q", s)
	}
	for i, part := range parts {
		var b byte
		if len(part) != 2 {
			return addr, errors.Errorf("invalid bluetooth address %q", s)
		}
		if _, err := fmt.Sscanf(part, "%02x", &b); err != nil {
			return addr, errors.Wrapf(err, "invalid bluetooth address %q", s)
		}
		addr[i] = b
	}
	return addr, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// wire returns the address in the little endian order the kernel expects.
func (a Address) wire() [6]uint8 {
	var w [6]uint8
	for i := range a {
		w[i] = a[len(a)-1-i]
	}
	return w
}

type Peer struct {
	Address Address
	Channel uint8
}

var _ driver.Transport = (*Transport)(nil)

// Transport offers the configured peers. Bluetooth discovery is left to the system pairing
// tools; a peer that is out of range fails on Open.
type Transport struct {
	peers          []Peer
	commandTimeout time.Duration
	dial           func(peer Peer) (io.ReadWriteCloser, error)
}

func TransportNew(peers []Peer, commandTimeout time.Duration) *Transport {
	return &Transport{peers: peers, commandTimeout: commandTimeout, dial: dial}
}

func (t *Transport) Kind() driver.TransportKind {
	return driver.TransportBluetooth
}

func (t *Transport) Discover() ([]driver.DiscoveredDevice, error) {
	if err := supported(); err != nil {
		return nil, err
	}

	devices := make([]driver.DiscoveredDevice, 0, len(t.peers))
	for _, peer := range t.peers {
		peer := peer
		if peer.Channel == 0 {
			peer.Channel = DefaultChannel
		}
		devices = append(devices, asciiproto.DeviceNew(peer.Address.String(), func() (io.ReadWriteCloser, error) {
			return t.dial(peer)
		}, t.commandTimeout))
	}
	return devices, nil
}

func (t *Transport) Close() error {
	return nil
}
