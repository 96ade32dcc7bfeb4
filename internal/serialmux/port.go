package serialmux

import "io"

// SerialPorter is what the mux needs from a port. go.bug.st/serial ports
// and TestableSerialPort both satisfy it.
type SerialPorter interface {
	io.ReadWriteCloser
}
