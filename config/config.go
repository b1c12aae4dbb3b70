// Package config holds the runtime settings of hornetlock.
//
// Settings start from Default, are overridden by HORNETLOCK_* variables
// from the environment or an optional .env file, and finally by command
// line flags in the command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every validation and parse error
var ErrInvalid = errors.New("invalid config")

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "HORNETLOCK_"

// Config is the complete set of settings
type Config struct {
	TurretEnabled bool
	FilterEnabled bool

	// detector
	ModelPath   string
	LabelsPath  string
	TargetLabel string
	// TargetClass is used when TargetLabel is empty or no labels file is
	// given
	TargetClass int
	MinScore    float32
	InputSize   int
	BatchSize   int
	PoolSize    int
	Platform    string

	// camera
	CalibrationPath string
	ReplayVideo     string
	ReplayDepthDir  string
	FrameWidth      int
	FrameHeight     int
	FPS             int

	// tracker
	TrackThresh float32
	HighThresh  float32
	TrackBuffer int
	MatchThresh float32

	// smoothing and stillness
	PredictFramesAhead int
	StillPixelThresh   int
	StillDepthThresh   float64
	StillFrames        int

	// spatial
	ROISize   int
	RadialToZ bool
	ParallaxX float64
	ParallaxY float64

	// actuator
	OffsetX       float64
	OffsetY       float64
	OffsetZ       float64
	LaserOffDelay time.Duration
	SerialPort    string
	SerialBaud    int

	// notifications
	NotifyCooldown time.Duration
	NotifyURL      string
	NotifyTimeout  time.Duration

	MetricsAddr       string
	DebugDumpDir      string
	DebugDumpInterval time.Duration
}

// Default returns the settings of the reference deployment
func Default() Config {
	return Config{
		TurretEnabled: false,
		FilterEnabled: true,

		ModelPath:   "../data/models/rk3588/hornet-yolov8s-rk3588.rknn",
		LabelsPath:  "",
		TargetLabel: "",
		TargetClass: 1,
		MinScore:    0.15,
		InputSize:   640,
		BatchSize:   1,
		PoolSize:    3,
		Platform:    "rk3588",

		FrameWidth:  1280,
		FrameHeight: 720,
		FPS:         30,

		TrackThresh: 0.15,
		HighThresh:  0.25,
		TrackBuffer: 30,
		MatchThresh: 0.65,

		PredictFramesAhead: 3,
		StillPixelThresh:   3,
		StillDepthThresh:   0.01,
		StillFrames:        60,

		ROISize:   100,
		RadialToZ: false,
		ParallaxX: 0.27,
		ParallaxY: 0.25,

		OffsetX:       17,
		OffsetY:       10,
		OffsetZ:       0,
		LaserOffDelay: 500 * time.Millisecond,
		SerialPort:    "/dev/ttyUSB0",
		SerialBaud:    115200,

		NotifyCooldown: 5 * time.Minute,
		NotifyTimeout:  10 * time.Second,

		DebugDumpInterval: time.Second,
	}
}

// Load returns Default overridden by the environment.  envFile is read
// first when it exists, variables already set in the process environment
// take precedence over it.
func Load(envFile string) (Config, error) {

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalid, envFile, err)
		}
	}

	cfg := Default()
	e := &envReader{}

	e.boolean("TURRET", &cfg.TurretEnabled)
	e.boolean("UKF", &cfg.FilterEnabled)

	e.str("MODEL", &cfg.ModelPath)
	e.str("LABELS", &cfg.LabelsPath)
	e.str("TARGET_LABEL", &cfg.TargetLabel)
	e.integer("TARGET_CLASS", &cfg.TargetClass)
	e.float32("MIN_SCORE", &cfg.MinScore)
	e.integer("INPUT_SIZE", &cfg.InputSize)
	e.integer("BATCH_SIZE", &cfg.BatchSize)
	e.integer("POOL_SIZE", &cfg.PoolSize)
	e.str("PLATFORM", &cfg.Platform)

	e.str("CALIBRATION", &cfg.CalibrationPath)
	e.str("REPLAY_VIDEO", &cfg.ReplayVideo)
	e.str("REPLAY_DEPTH", &cfg.ReplayDepthDir)
	e.integer("FRAME_WIDTH", &cfg.FrameWidth)
	e.integer("FRAME_HEIGHT", &cfg.FrameHeight)

	fpsSet := e.integer("FPS", &cfg.FPS)

	e.float32("TRACK_THRESH", &cfg.TrackThresh)
	e.float32("HIGH_THRESH", &cfg.HighThresh)
	e.integer("TRACK_BUFFER", &cfg.TrackBuffer)
	e.float32("MATCH_THRESH", &cfg.MatchThresh)

	e.integer("PREDICT_FRAMES", &cfg.PredictFramesAhead)
	e.integer("STILL_PIXELS", &cfg.StillPixelThresh)
	e.float64("STILL_DEPTH", &cfg.StillDepthThresh)

	if !e.integer("STILL_FRAMES", &cfg.StillFrames) && fpsSet {
		cfg.StillFrames = 2 * cfg.FPS
	}

	e.integer("ROI_SIZE", &cfg.ROISize)
	e.boolean("RADIAL_TO_Z", &cfg.RadialToZ)
	e.float64("PARALLAX_X", &cfg.ParallaxX)
	e.float64("PARALLAX_Y", &cfg.ParallaxY)

	e.float64("OFFSET_X", &cfg.OffsetX)
	e.float64("OFFSET_Y", &cfg.OffsetY)
	e.float64("OFFSET_Z", &cfg.OffsetZ)
	e.duration("LASER_OFF_DELAY", &cfg.LaserOffDelay)
	e.str("SERIAL_PORT", &cfg.SerialPort)
	e.integer("SERIAL_BAUD", &cfg.SerialBaud)

	e.duration("NOTIFY_COOLDOWN", &cfg.NotifyCooldown)
	e.str("NOTIFY_URL", &cfg.NotifyURL)
	e.duration("NOTIFY_TIMEOUT", &cfg.NotifyTimeout)

	e.str("METRICS_ADDR", &cfg.MetricsAddr)
	e.str("DEBUG_DUMP_DIR", &cfg.DebugDumpDir)
	e.duration("DEBUG_DUMP_INTERVAL", &cfg.DebugDumpInterval)

	if len(e.errs) > 0 {
		return cfg, errors.Join(e.errs...)
	}

	return cfg, nil
}

// Validate checks every setting is within range
func (c Config) Validate() error {

	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.ModelPath != "", "model path is required")
	check(c.MinScore >= 0 && c.MinScore < 1, "min score %v must be in [0,1)", c.MinScore)
	check(c.TargetClass >= 0, "target class %d must not be negative", c.TargetClass)
	check(c.InputSize > 0 && c.InputSize%32 == 0, "input size %d must be a positive multiple of 32", c.InputSize)
	check(c.BatchSize >= 1, "batch size %d must be at least 1", c.BatchSize)
	check(c.PoolSize >= 1, "pool size %d must be at least 1", c.PoolSize)
	check(c.FrameWidth > 0 && c.FrameHeight > 0, "frame size %dx%d must be positive", c.FrameWidth, c.FrameHeight)
	check(c.FPS > 0, "fps %d must be positive", c.FPS)
	check(c.TrackThresh >= 0 && c.TrackThresh <= c.HighThresh,
		"track threshold %v must be in [0, high threshold %v]", c.TrackThresh, c.HighThresh)
	check(c.MatchThresh > 0 && c.MatchThresh <= 1, "match threshold %v must be in (0,1]", c.MatchThresh)
	check(c.TrackBuffer > 0, "track buffer %d must be positive", c.TrackBuffer)
	check(c.PredictFramesAhead > 0, "predict frames %d must be positive", c.PredictFramesAhead)
	check(c.StillPixelThresh > 0, "still pixel threshold %d must be positive", c.StillPixelThresh)
	check(c.StillDepthThresh > 0, "still depth threshold %v must be positive", c.StillDepthThresh)
	check(c.StillFrames > 0, "still frames %d must be positive", c.StillFrames)
	check(c.ROISize >= 2, "roi size %d must be at least 2", c.ROISize)
	check(c.ROISize < c.FrameWidth && c.ROISize < c.FrameHeight,
		"roi size %d must be smaller than the frame", c.ROISize)
	check(c.LaserOffDelay > 0, "laser off delay %v must be positive", c.LaserOffDelay)
	check(c.NotifyCooldown >= 0, "notify cooldown %v must not be negative", c.NotifyCooldown)
	check(c.NotifyTimeout > 0, "notify timeout %v must be positive", c.NotifyTimeout)
	check(!c.TurretEnabled || c.SerialPort != "", "serial port is required when the turret is enabled")
	check(c.DebugDumpDir == "" || c.DebugDumpInterval > 0,
		"debug dump interval %v must be positive", c.DebugDumpInterval)

	return errors.Join(errs...)
}

// DT returns the smoother prediction horizon
func (c Config) DT() float64 {
	return float64(c.PredictFramesAhead) / float64(c.FPS)
}

// envReader parses prefixed environment variables, collecting errors
type envReader struct {
	errs []error
}

// lookup returns the value of EnvPrefix+key when set and non empty
func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, val string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, key, val, err))
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.lookup(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) boolean(key string, dst *bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return false
	}
	*dst = b
	return true
}

func (e *envReader) integer(key string, dst *int) bool {
	v, ok := e.lookup(key)
	if !ok {
		return false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return false
	}
	*dst = i
	return true
}

func (e *envReader) float64(key string, dst *float64) bool {
	v, ok := e.lookup(key)
	if !ok {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return false
	}
	*dst = f
	return true
}

func (e *envReader) float32(key string, dst *float32) bool {
	var f float64
	if !e.float64(key, &f) {
		return false
	}
	*dst = float32(f)
	return true
}

func (e *envReader) duration(key string, dst *time.Duration) bool {
	v, ok := e.lookup(key)
	if !ok {
		return false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return false
	}
	*dst = d
	return true
}
