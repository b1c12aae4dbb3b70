package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"gonum.org/v1/gonum/spatial/r3"
)

// Params configures the Controller
type Params struct {
	// OffsetX, OffsetY and OffsetZ are added to the aim point in
	// millimetres to account for the turret mount relative to the camera
	OffsetX float64
	OffsetY float64
	OffsetZ float64
	// LaserOffDelay is how long the laser stays on after the last fix
	LaserOffDelay time.Duration
}

// DefaultParams returns the offsets measured for the standard mount
func DefaultParams() Params {
	return Params{
		OffsetX:       17,
		OffsetY:       10,
		OffsetZ:       0,
		LaserOffDelay: 500 * time.Millisecond,
	}
}

// Command is the last instruction sent to the turret
type Command struct {
	// X, Y, Z aim point in millimetres
	X, Y, Z float64
	Laser   bool
}

// Controller turns target fixes into turret commands and switches the
// laser off once fixes stop arriving
type Controller struct {
	turret Turret
	params Params
	clock  clock.Clock
	log    logs.Log

	mu      sync.Mutex
	lastFix time.Time
	laserOn bool
	last    Command
	onLaser func(on bool)
}

// NewController returns a controller for turret.  A nil clock uses the
// wall clock.
func NewController(turret Turret, p Params, clk clock.Clock, log logs.Log) *Controller {

	if clk == nil {
		clk = clock.New()
	}

	return &Controller{
		turret: turret,
		params: p,
		clock:  clk,
		log:    log,
	}
}

// Engage aims at pos, given in metres in the camera frame, and switches
// the laser on.  Fixes behind or on the camera plane are ignored and
// engaged is false.
func (c *Controller) Engage(pos r3.Vec) (engaged bool, err error) {

	if pos.Z <= 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.laserOn {
		if err := c.turret.Laser(true); err != nil {
			return false, err
		}
		c.setLaser(true)
	}

	cmd := Command{
		X:     pos.X*1000 + c.params.OffsetX,
		Y:     pos.Y*1000 + c.params.OffsetY,
		Z:     pos.Z*1000 + c.params.OffsetZ,
		Laser: true,
	}

	if err := c.turret.LookAt(cmd.X, cmd.Y, cmd.Z); err != nil {
		return false, err
	}

	c.last = cmd
	c.lastFix = c.clock.Now()

	return true, nil
}

// Run is the laser watchdog, it returns when ctx is done
func (c *Controller) Run(ctx context.Context) {

	interval := c.params.LaserOffDelay / 5
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}

	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.checkLaser(); err != nil {
				c.log.Warnf("Laser watchdog: %v", err)
			}
		}
	}
}

// checkLaser switches the laser off when the last fix is older than the
// off delay
func (c *Controller) checkLaser() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.laserOn || c.clock.Since(c.lastFix) <= c.params.LaserOffDelay {
		return nil
	}

	if err := c.turret.Laser(false); err != nil {
		return err
	}

	c.setLaser(false)
	c.last.Laser = false

	return nil
}

// OnLaserChange registers fn to be called with the new laser state each
// time it changes.  fn runs with the controller locked.
func (c *Controller) OnLaserChange(fn func(on bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLaser = fn
}

func (c *Controller) setLaser(on bool) {

	if c.laserOn == on {
		return
	}

	c.laserOn = on

	if c.onLaser != nil {
		c.onLaser(on)
	}
}

// LastFix returns when the turret was last aimed, zero if never
func (c *Controller) LastFix() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFix
}

// LaserOn reports the commanded laser state
func (c *Controller) LaserOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.laserOn
}

// LastCommand returns the last command sent to the turret
func (c *Controller) LastCommand() Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Close parks the turret and releases it
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	offErr := c.turret.Off()
	c.setLaser(false)

	if err := c.turret.Close(); err != nil {
		return err
	}

	if offErr != nil {
		return fmt.Errorf("turret off: %w", offErr)
	}

	return nil
}
