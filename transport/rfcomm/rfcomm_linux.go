package rfcomm

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

func supported() error {
	return nil
}

func dial(peer Peer) (io.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, errors.Wrap(err, "create rfcomm socket")
	}

	addr := &unix.SockaddrRFCOMM{Addr: peer.Address.wire(), Channel: peer.Channel}
	log.Debug().Str("address", peer.Address.String()).Uint8("channel", peer.Channel).Msg("connecting rfcomm")
	if err := unix.Connect(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "connect %s channel %d", peer.Address, peer.Channel)
	}

	// non-blocking so the runtime poller owns the fd and Close interrupts a pending Read
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "set non-blocking")
	}

	return os.NewFile(uintptr(fd), "rfcomm:"+peer.Address.String()), nil
}
