package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"depthcal/calibration"
	"depthcal/capture"
	"depthcal/dataset"
	"depthcal/detection"
	"depthcal/overlay"
	"depthcal/pipeline"
)

// outputScaleFactor shrinks the live operator views; capture stays full-res.
const outputScaleFactor = 0.5

var (
	logLevel        = "info"
	repeatCount     = 1
	squareSizeCm    = 2.5
	baselineCm      = 9.0
	fieldOfViewDeg  = 71.86
	noSwapLR        = false
	leftDevice      = 0
	rightDevice     = 1
	imageOp         = "modify"
	modes           = []string{"capture", "process"}
	configOverwrite = ""
	datasetPath     = "dataset"
	outputPath      = "resources/depthcal.calib.json"
)

const longHelp = `Captures and processes stereo image pairs for depth calibration,
producing a calibration artifact for downstream depth consumers.

Image capture uses a printed 9x6 checkerboard target on a flat surface. The
board should mimic the polygon drawn on the live views; it does not need to
fit inside it. If the pattern cannot be found, the pose is retried.

Calibration requires an RMS reprojection error below 1.0 to write the
artifact. A mean epipolar error below 1.5 is considered good, but not
required.

Examples:

  Capture and process with 3.0 cm squares and a 7.5 cm baseline:
    depthcal --square-size-cm 3.0 --baseline 7.5

  Re-run processing only, against previously captured images:
    depthcal --square-size-cm 3.0 --baseline 7.5 --mode process

  Delete all existing images before capturing:
    depthcal --image-op delete`

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "depthcal",
		Short:         "Guided stereo camera calibration",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.StringVar(&logLevel, "log-level", logLevel, "log level (debug, info, warn, error)")
	f.IntVarP(&repeatCount, "count", "c", repeatCount, "number of image pairs to capture per pose")
	f.Float64VarP(&squareSizeCm, "square-size-cm", "s", squareSizeCm, "checkerboard square size in centimeters")
	f.Float64VarP(&baselineCm, "baseline", "b", baselineCm, "left/right camera baseline in centimeters")
	f.Float64Var(&fieldOfViewDeg, "field-of-view", fieldOfViewDeg, "horizontal field of view of the cameras in degrees")
	f.BoolVarP(&noSwapLR, "no-swap-lr", "w", noSwapLR, "do not swap the left and right cameras")
	f.IntVar(&leftDevice, "left-camera", leftDevice, "left camera device id")
	f.IntVar(&rightDevice, "right-camera", rightDevice, "right camera device id")
	f.StringVarP(&imageOp, "image-op", "i", imageOp, "'modify' keeps existing images, 'delete' clears the dataset first")
	f.StringSliceVarP(&modes, "mode", "m", modes, "phases to run: capture, process")
	f.StringVar(&configOverwrite, "config-overwrite", configOverwrite, "JSON board config merged over the defaults")
	f.StringVar(&datasetPath, "dataset", datasetPath, "dataset directory")
	f.StringVarP(&outputPath, "output", "o", outputPath, "calibration artifact path")
	return cmd
}

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "parsing log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.Kitchen,
	})
	return nil
}

func buildConfig() (pipeline.Config, error) {
	cfg := pipeline.Config{
		LeftDevice:    leftDevice,
		RightDevice:   rightDevice,
		BaselineCm:    baselineCm,
		HFOVDeg:       fieldOfViewDeg,
		SwapLeftRight: !noSwapLR,
	}
	if configOverwrite != "" {
		var overwrite struct {
			BoardConfig *pipeline.Config `json:"board_config"`
		}
		overwrite.BoardConfig = &cfg
		if err := json.Unmarshal([]byte(configOverwrite), &overwrite); err != nil {
			return cfg, errors.Wrap(err, "parsing --config-overwrite")
		}
		logrus.Infof("merged board config with overwrite: %+v", cfg)
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	if err := setupLogger(); err != nil {
		return err
	}
	if repeatCount < 1 {
		return errors.Errorf("count must be at least 1, got %d", repeatCount)
	}

	doCapture, doProcess := false, false
	for _, m := range modes {
		switch m {
		case "capture":
			doCapture = true
		case "process":
			doProcess = true
		default:
			return errors.Errorf("unknown mode %q, want capture or process", m)
		}
	}

	if doCapture {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		if err := runCapture(cfg); err != nil {
			return err
		}
	}
	if doProcess {
		if err := runProcess(); err != nil {
			return err
		}
	}
	logrus.Info("done")
	return nil
}

func runCapture(cfg pipeline.Config) error {
	store := &dataset.Store{Root: datasetPath}
	if imageOp == "delete" {
		if err := store.DeleteAll(); err != nil {
			return err
		}
		logrus.Infof("deleted existing dataset under %s", datasetPath)
	}
	if err := store.EnsureDirs(); err != nil {
		return err
	}

	renderer := overlay.NewRenderer(outputScaleFactor)
	defer renderer.Close()

	total := capture.PoseCount * repeatCount
	logrus.Infof("starting image capture: %d total images, %d per pose", total, repeatCount)
	if err := renderer.ShowInfo(total, repeatCount); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	src := pipeline.NewStereo(cfg)
	if err := src.Start(ctx); err != nil {
		return errors.Wrap(err, "initializing imaging pipeline")
	}
	defer src.Close()

	ctrl := capture.NewController(capture.NewPoseGuide(), detection.NewChessboardDetector(),
		store, renderer, repeatCount)
	return ctrl.Run(ctx, src.Packets())
}

func runProcess() error {
	logrus.Info("starting image processing")
	res, err := calibration.Solve(datasetPath, squareSizeCm)
	if err != nil {
		return err
	}
	if err := calibration.WriteArtifact(outputPath, res); err != nil {
		return err
	}
	logrus.Infof("calibration accepted: rms %.4f, mean epipolar error %.4f", res.RMSError, res.EpipolarError)
	logrus.Infof("artifact written to %s", outputPath)
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		switch {
		case errors.Is(err, capture.ErrAborted):
			logrus.Warn("calibration has been interrupted by the operator")
			os.Exit(130)
		case errors.Is(err, calibration.ErrEmptyDataset),
			errors.Is(err, calibration.ErrInsufficientSamples),
			errors.Is(err, calibration.ErrSolverFailed),
			errors.Is(err, calibration.ErrRMSThreshold):
			logrus.Errorf("calibration failed: %v", err)
			os.Exit(2)
		default:
			logrus.Error(err)
			os.Exit(1)
		}
	}
}
