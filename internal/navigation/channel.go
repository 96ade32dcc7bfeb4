package navigation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/supplybot/internal/monitoring"
	"github.com/banshee-data/supplybot/internal/timeutil"
)

// ErrChannelWrite wraps every failure to deliver a command to the actuator.
var ErrChannelWrite = errors.New("actuator channel write failed")

// DefaultPace is the delay after each command write before the next control
// action. The firmware drops symbols that arrive faster than this.
const DefaultPace = 100 * time.Millisecond

// Transport is the exclusively owned link to the robot.
type Transport interface {
	SendCommand(command string) error
	Close() error
}

// Actuator delivers commands to the robot.
type Actuator interface {
	Send(cmd Command) error
	Close() error
}

// Channel is an Actuator that writes one command at a time to a Transport
// and waits a fixed pace after each write. It is safe for concurrent use:
// a Send from another goroutine waits out the pace of the previous write.
type Channel struct {
	transport Transport
	clock     timeutil.Clock
	pace      time.Duration

	mu   sync.Mutex
	sent int
}

// NewChannel wraps transport. A nil clock uses the real clock.
func NewChannel(transport Transport, clock timeutil.Clock, pace time.Duration) *Channel {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Channel{transport: transport, clock: clock, pace: pace}
}

// Send writes cmd and then blocks for the pace.
func (c *Channel) Send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transport.SendCommand(string([]byte{byte(cmd)})); err != nil {
		return fmt.Errorf("%w: %v: %w", ErrChannelWrite, cmd, err)
	}
	c.sent++
	monitoring.Logf("Send data: %c \t %s", byte(cmd), cmd.Describe())
	c.clock.Sleep(c.pace)
	return nil
}

// Sent returns the number of commands written successfully.
func (c *Channel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Close releases the transport.
func (c *Channel) Close() error {
	return c.transport.Close()
}
