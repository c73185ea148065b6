package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// -------------------- Wire encoding --------------------

const (
	cmdSet byte = 's'
	// Parameter ids above the single-byte range are addressed through a
	// second byte behind this escape value.
	paramEscape byte = 0xFF
)

var cmdReset = []byte("r 0")

// encodeSet builds the set-parameter command:
//
//	['s'][param][value]              for param 0..254
//	['s'][255][param-255][value]     for param 255..510
//
// value must fit one byte; out-of-range arguments are caller errors and are
// rejected before anything touches the wire.
func encodeSet(param, value int) ([]byte, error) {
	if value < 0 || value > 0xFF {
		return nil, fmt.Errorf("protocol: value %d out of byte range", value)
	}
	if param < 0 || param > int(paramEscape)*2 {
		return nil, fmt.Errorf("protocol: parameter %d not addressable", param)
	}
	if param <= 0xFE {
		return []byte{cmdSet, byte(param), byte(value)}, nil
	}
	return []byte{cmdSet, paramEscape, byte(param - int(paramEscape)), byte(value)}, nil
}

// encodeReset builds the reset-to-default command.
func encodeReset() []byte {
	out := make([]byte, len(cmdReset))
	copy(out, cmdReset)
	return out
}

// -------------------- Serial link --------------------

// link is the slice of a serial port the controller needs. go.bug.st's
// serial.Port satisfies it.
type link interface {
	io.Writer
	ResetInputBuffer() error
	Drain() error
}

// openSerial opens the synth's serial device. The short read timeout keeps
// a wedged device from blocking the run indefinitely.
func openSerial(name string, baud int, log *slog.Logger) (serial.Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(serialTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}
	// Let the port come up, then drop whatever the device chattered at boot.
	time.Sleep(serialSettle)
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: clear input: %w", err)
	}
	log.Info("serial: port opened", "device", name, "baud", baud)
	return p, nil
}

// -------------------- Controller --------------------

// Controller transmits parameter commands to the synth. Fire-and-forget: no
// checksum, no acknowledgement, no retries. Retry policy belongs to the
// exploration loop.
type Controller struct {
	port link
	log  *slog.Logger
}

func NewController(port link, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{port: port, log: log}
}

// SetParam programs one parameter. Pending input is discarded first so a
// stale device response can never be mistaken for a reply to this command,
// and the write is drained so it is not left sitting in an OS buffer.
func (c *Controller) SetParam(param, value int) error {
	cmd, err := encodeSet(param, value)
	if err != nil {
		return err
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("protocol: clear input: %w", err)
	}
	if _, err := c.port.Write(cmd); err != nil {
		return fmt.Errorf("protocol: set %d=%d: %w", param, value, err)
	}
	if err := c.port.Drain(); err != nil {
		return fmt.Errorf("protocol: drain: %w", err)
	}
	c.log.Debug("protocol: parameter set", "param", param, "value", value)
	return nil
}

// Reset returns the synth to its default state and waits for it to settle.
func (c *Controller) Reset() error {
	if _, err := c.port.Write(encodeReset()); err != nil {
		return fmt.Errorf("protocol: reset: %w", err)
	}
	if err := c.port.Drain(); err != nil {
		return fmt.Errorf("protocol: drain: %w", err)
	}
	time.Sleep(resetSettle)
	c.log.Debug("protocol: device reset")
	return nil
}
