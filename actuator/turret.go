// Package actuator drives the aiming turret and its laser.
package actuator

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"go.bug.st/serial"
)

// Turret is the physical aiming device.  Coordinates are millimetres in
// the turret frame.
type Turret interface {
	LookAt(x, y, z float64) error
	Laser(on bool) error
	// Off parks the turret and switches the laser off
	Off() error
	Close() error
}

// PortOptions describes the serial connection to the turret controller
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills in 115200 8N1 defaults
func (o PortOptions) Normalize() (PortOptions, error) {

	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}

	return opts, nil
}

// SerialMode converts the options into a serial.Mode
func (o PortOptions) SerialMode() (*serial.Mode, error) {

	opts, err := o.Normalize()

	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}

	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}

// SerialTurret speaks the turret line protocol
//
//	AIM <x> <y> <z>
//	LASER <1|0>
//	OFF
type SerialTurret struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// OpenSerial opens the turret controller on the serial device at path
func OpenSerial(path string, opts PortOptions) (*SerialTurret, error) {

	mode, err := opts.SerialMode()

	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)

	if err != nil {
		return nil, fmt.Errorf("error opening turret port %s: %w", path, err)
	}

	return NewSerialTurret(port), nil
}

// NewSerialTurret writes the line protocol to w
func NewSerialTurret(w io.WriteCloser) *SerialTurret {
	return &SerialTurret{port: w}
}

func (s *SerialTurret) send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("turret write %q: %w", strings.TrimSpace(line), err)
	}

	return nil
}

// LookAt implements Turret
func (s *SerialTurret) LookAt(x, y, z float64) error {
	return s.send(fmt.Sprintf("AIM %.1f %.1f %.1f\n", x, y, z))
}

// Laser implements Turret
func (s *SerialTurret) Laser(on bool) error {

	if on {
		return s.send("LASER 1\n")
	}

	return s.send("LASER 0\n")
}

// Off implements Turret
func (s *SerialTurret) Off() error {
	return s.send("OFF\n")
}

// Close implements Turret
func (s *SerialTurret) Close() error {
	return s.port.Close()
}

// Disabled is the Turret used when no turret is attached.  Commands are
// only logged.
type Disabled struct {
	Log logs.Log
}

func (d Disabled) LookAt(x, y, z float64) error {
	if d.Log != nil {
		d.Log.Debugf("turret disabled, aim %.1f %.1f %.1f", x, y, z)
	}
	return nil
}

func (d Disabled) Laser(on bool) error {
	if d.Log != nil {
		d.Log.Debugf("turret disabled, laser %v", on)
	}
	return nil
}

func (d Disabled) Off() error   { return nil }
func (d Disabled) Close() error { return nil }
