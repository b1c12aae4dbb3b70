/*
Command hornetlock runs the hornet detect, track and target pipeline.

Example usage:

	hornetlock -env .env -c calibration.json -v recording.mp4 -d depth/ -turret -ukf
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyclopcam/logs"

	hornetlock "github.com/swdee/go-hornetlock"
	"github.com/swdee/go-hornetlock/accel/rknn"
	"github.com/swdee/go-hornetlock/actuator"
	"github.com/swdee/go-hornetlock/config"
	"github.com/swdee/go-hornetlock/frame"
	"github.com/swdee/go-hornetlock/notify"
	"github.com/swdee/go-hornetlock/postprocess"
)

func main() {

	log, err := logs.NewLog()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(log logs.Log) error {

	envFile := flag.String("env", ".env", "Optional .env file with HORNETLOCK_* settings")
	turret := flag.Bool("turret", false, "Drive the turret over the serial port")
	ukf := flag.Bool("ukf", true, "Smooth target positions with the constant velocity UKF, -ukf=false for raw fixes")
	modelFile := flag.String("m", "", "RKNN compiled model file, overrides HORNETLOCK_MODEL")
	labelFile := flag.String("l", "", "Model labels file, overrides HORNETLOCK_LABELS")
	calFile := flag.String("c", "", "Camera calibration JSON, overrides HORNETLOCK_CALIBRATION")
	videoFile := flag.String("v", "", "Recorded colour video to replay, overrides HORNETLOCK_REPLAY_VIDEO")
	depthDir := flag.String("d", "", "Directory of 16 bit depth PNGs matching the video, overrides HORNETLOCK_REPLAY_DEPTH")
	poolSize := flag.Int("s", 0, "Size of RKNN runtime pool, choose 1, 2, 3, or multiples of 3")
	platform := flag.String("p", "", "Rockchip CPU Model number [rk3562|rk3566|rk3568|rk3576|rk3582|rk3588]")
	metricsAddr := flag.String("metrics", "", "Address to serve /metrics and /status on, eg: :9100")
	dumpDir := flag.String("dump", "", "Write annotated debug frames to this directory")

	flag.Parse()

	cfg, err := config.Load(*envFile)

	if err != nil {
		return err
	}

	// flags win over the environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "turret":
			cfg.TurretEnabled = *turret
		case "ukf":
			cfg.FilterEnabled = *ukf
		case "m":
			cfg.ModelPath = *modelFile
		case "l":
			cfg.LabelsPath = *labelFile
		case "c":
			cfg.CalibrationPath = *calFile
		case "v":
			cfg.ReplayVideo = *videoFile
		case "d":
			cfg.ReplayDepthDir = *depthDir
		case "s":
			cfg.PoolSize = *poolSize
		case "p":
			cfg.Platform = *platform
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "dump":
			cfg.DebugDumpDir = *dumpDir
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := rknn.SetCPUAffinityByPlatform(cfg.Platform, rknn.FastCores); err != nil {
		log.Warnf("Failed to set CPU affinity: %v", err)
	}

	var labels []string

	if cfg.LabelsPath != "" {
		if labels, err = hornetlock.LoadLabels(cfg.LabelsPath); err != nil {
			return fmt.Errorf("error loading labels: %w", err)
		}
	}

	src, err := openSource(cfg)

	if err != nil {
		return err
	}

	cores, err := rknn.PlatformCores(cfg.Platform)

	if err != nil {
		src.Close()
		return err
	}

	decoder := postprocess.YOLOv8HornetParams()
	decoder.BoxThreshold = cfg.MinScore

	if len(labels) > 0 {
		decoder.ObjectClassNum = len(labels)
	}

	acc, err := rknn.NewBackend(log, rknn.BackendParams{
		ModelFile: cfg.ModelPath,
		PoolSize:  cfg.PoolSize,
		Cores:     cores,
		Decoder:   decoder,
	})

	if err != nil {
		src.Close()
		return err
	}

	var tur actuator.Turret = actuator.Disabled{Log: log}

	if cfg.TurretEnabled {
		st, err := actuator.OpenSerial(cfg.SerialPort, actuator.PortOptions{BaudRate: cfg.SerialBaud})

		if err != nil {
			acc.Close()
			src.Close()
			return err
		}

		tur = st
	}

	var notifier notify.Notifier = notify.LogNotifier{Log: log}

	if cfg.NotifyURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifyURL)
	}

	p, err := hornetlock.NewPipeline(cfg, hornetlock.Deps{
		Log:         log,
		Source:      src,
		Accelerator: acc,
		Turret:      tur,
		Notifier:    notifier,
		Labels:      labels,
	})

	if err != nil {
		tur.Close()
		acc.Close()
		src.Close()
		return err
	}

	defer func() {
		if err := p.Close(); err != nil {
			log.Warnf("Shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Running, press Ctrl+C to stop")

	err = p.Run(ctx)

	s := p.Metrics().Snapshot()
	log.Infof("Stopped after %d frames, %d dropped, %d fixes", s.FramesRead, s.FramesDropped, s.Fixes)

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// openSource returns the frame source.  Only recorded replays are
// supported, live capture needs the depth camera SDK.
func openSource(cfg config.Config) (frame.Source, error) {

	if cfg.CalibrationPath == "" {
		return nil, fmt.Errorf("%w: a camera calibration file is required", config.ErrInvalid)
	}

	cal, err := frame.LoadCalibration(cfg.CalibrationPath)

	if err != nil {
		return nil, err
	}

	if cfg.ReplayVideo == "" || cfg.ReplayDepthDir == "" {
		return nil, fmt.Errorf("%w: a replay video and depth directory are required", config.ErrInvalid)
	}

	return frame.NewReplay(cfg.ReplayVideo, cfg.ReplayDepthDir, cal, cfg.FPS)
}
