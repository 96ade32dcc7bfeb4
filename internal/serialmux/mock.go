package serialmux

import (
	"bytes"
	"sync"
)

// NewDevSerialMux returns a mux over an in-memory port that answers every
// command with an "ack <command>" line, standing in for the robot firmware
// when no hardware is attached.
func NewDevSerialMux() *SerialMux[*TestableSerialPort] {
	port := NewTestableSerialPort()
	port.BlockReads = true
	port.EchoWrites = true
	return NewSerialMux(port)
}

// TestableSerialPort is an in-memory SerialPorter. Reads drain data queued
// with AddReadData; writes are captured for inspection.
type TestableSerialPort struct {
	mu       sync.Mutex
	readable *sync.Cond

	in  bytes.Buffer
	out bytes.Buffer

	writes int
	closed bool

	// ReadError and the pending write error are returned once, by the
	// next call.
	ReadError  error
	writeError error
	CloseError error

	ReadCalls int

	// BlockReads makes Read wait for data instead of returning io.EOF.
	BlockReads bool
	// EchoWrites queues "ack <data>" for reading after each write.
	EchoWrites bool
}

// NewTestableSerialPort returns an empty open port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.readable = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadCalls++

	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.closed && p.in.Len() == 0 {
		p.readable.Wait()
	}
	if p.closed {
		return 0, ErrClosed
	}
	return p.in.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++

	if p.closed {
		return 0, ErrClosed
	}
	if err := p.writeError; err != nil {
		p.writeError = nil
		return 0, err
	}
	n, _ := p.out.Write(b)
	if p.EchoWrites {
		p.in.WriteString("ack " + string(bytes.TrimSpace(b)) + "\n")
		p.readable.Broadcast()
	}
	return n, nil
}

// Close wakes blocked readers. Later reads and writes fail with ErrClosed.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readable.Broadcast()
	return p.CloseError
}

// AddReadData queues data for Read.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.readable.Broadcast()
}

// GetWrittenData returns a copy of everything written so far.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.out.Bytes())
}

// WriteCount returns the number of Write calls, failed ones included.
func (p *TestableSerialPort) WriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *TestableSerialPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// FailNextWrite makes the next Write return err.
func (p *TestableSerialPort) FailNextWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeError = err
}

// Reset reopens the port and clears buffers, counters and injected errors.
func (p *TestableSerialPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Reset()
	p.out.Reset()
	p.writes, p.ReadCalls = 0, 0
	p.closed = false
	p.ReadError, p.writeError, p.CloseError = nil, nil, nil
}
