package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the robot firmware's Serial.begin rate.
const DefaultBaudRate = 9600

// PortOptions describes the serial line settings of the robot link.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	// Terminator is appended to every command that does not already end
	// with it. The robot firmware reads single bytes, so it is empty by
	// default.
	Terminator string `json:"terminator"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityAliases = map[string]string{"NONE": "N", "EVEN": "E", "ODD": "O"}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills in 9600 8N1 for unset fields and rejects settings the
// serial driver cannot open.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}

	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if alias, ok := parityAliases[p]; ok {
		p = alias
	}
	if p == "" {
		p = "N"
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = p
	return o, nil
}

// SerialMode returns the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stopBits[n.StopBits],
		Parity:   parities[n.Parity],
	}, nil
}

// NewRealSerialMux opens the robot's serial port at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	mux := NewSerialMux(port)
	mux.SetTerminator(opts.Terminator)
	return mux, nil
}
