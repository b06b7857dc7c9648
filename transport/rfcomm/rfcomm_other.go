//go:build !linux

package rfcomm

import (
	"io"

	"github.com/MeneDev/rfid-reader/rfiderror"
	"github.com/pkg/errors"
)

func supported() error {
	return errors.Wrap(rfiderror.ErrorTransportAbsent, "rfcomm sockets require linux")
}

func dial(peer Peer) (io.ReadWriteCloser, error) {
	return nil, supported()
}
