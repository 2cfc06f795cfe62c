// Package main is the command line entry point of the depth pipeline. It reads stereo frame pairs
// from image files, runs them through the pipeline and dumps what every frame produced.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/scampca/camera"
	"go.viam.com/scampca/config"
	"go.viam.com/scampca/logging"
	"go.viam.com/scampca/stereo"
)

const appName = "scampca"

const (
	flagConfig         = "config"
	flagDebug          = "debug"
	flagLeft           = "left"
	flagRight          = "right"
	flagLoop           = "loop"
	flagFrames         = "frames"
	flagOut            = "out"
	flagFormat         = "format"
	flagHistogram      = "histogram"
	flagDebugFrames    = "debug-frame"
	flagReportInterval = "report-interval"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		logging.Global().Error(err)
		//nolint:errcheck
		logging.Global().Sync()
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      appName,
		Usage:     "estimate depth from rectified stereo image pairs",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run image pairs through the pipeline",
				UsageText: "scampca run --left L1.png --right R1.png [--left L2.png --right R2.png ...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     flagLeft,
						Usage:    "left frame `FILE`, in frame order",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     flagRight,
						Usage:    "right frame `FILE`, in frame order",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  flagLoop,
						Usage: "replay the frames forever",
					},
					&cli.IntFlag{
						Name:  flagFrames,
						Usage: "stop after `N` processed frames, 0 for no limit",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "dump every frame's results into `DIR`",
					},
					&cli.StringFlag{
						Name:  flagFormat,
						Usage: "point cloud dump format, xyz or pcd",
						Value: formatXYZ,
					},
					&cli.BoolFlag{
						Name:  flagHistogram,
						Usage: "plot a histogram of each frame's matched depths",
					},
					&cli.Int64SliceFlag{
						Name:  flagDebugFrames,
						Usage: "log the stages of frame `SEQ` at debug level",
					},
					&cli.DurationFlag{
						Name:  flagReportInterval,
						Usage: "log pipeline counters every `INTERVAL`, 0 to disable",
					},
				},
				Action: runAction,
			},
			{
				Name:      "default-config",
				Usage:     "write the default configuration",
				ArgsUsage: "FILE",
				Action:    defaultConfigAction,
			},
		},
	}
}

// newLogger builds the root logger, registers it so "log" patterns in the config can set its
// level, and makes it the global logger.
func newLogger(c *cli.Context) logging.Logger {
	var logger logging.Logger
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger(appName)
	} else {
		logger = logging.NewLogger(appName)
	}
	logging.RegisterLogger(appName, logger)
	logging.ReplaceGlobal(logger)
	return logger
}

func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Read(path, logger)
}

func defaultConfigAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("default-config needs exactly one FILE argument")
	}
	return config.Default().Write(c.Args().First())
}

func runAction(c *cli.Context) error {
	logger := newLogger(c)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	if err := logging.UpdateLoggerRegistry(cfg.LogConfig, logger); err != nil {
		return err
	}
	if c.Bool(flagDebug) {
		// --debug wins over the config's patterns for the root logger.
		logger.SetLevel(logging.DEBUG)
	}

	leftFiles, rightFiles := c.StringSlice(flagLeft), c.StringSlice(flagRight)
	if len(leftFiles) != len(rightFiles) {
		return errors.Errorf("got %d left frames but %d right frames", len(leftFiles), len(rightFiles))
	}
	leftSource, err := camera.NewFileSource(leftFiles, c.Bool(flagLoop))
	if err != nil {
		return errors.Wrap(err, "left source")
	}
	rightSource, err := camera.NewFileSource(rightFiles, c.Bool(flagLoop))
	if err != nil {
		return errors.Wrap(err, "right source")
	}

	consumer, err := newDumpConsumer(c.String(flagOut), c.String(flagFormat), c.Bool(flagHistogram),
		cfg.Matching.MaxHorizontalSeparation, logger.Sublogger("dump"))
	if err != nil {
		return err
	}
	return runPipeline(c.Context, cfg, leftSource, rightSource, consumer, runOptions{
		frames:         c.Int(flagFrames),
		debugFrames:    lo.Map(c.Int64Slice(flagDebugFrames), func(seq int64, _ int) uint64 { return uint64(seq) }),
		reportInterval: c.Duration(flagReportInterval),
	}, logger)
}

type runOptions struct {
	frames         int
	debugFrames    []uint64
	reportInterval time.Duration
}

// runPipeline pairs the two sources, feeds the pairs through the pipeline and hands every result
// to consumer until the sources run out, opts.frames results were handled, or ctx is done.
func runPipeline(
	ctx context.Context,
	cfg *config.Config,
	left, right camera.VideoSource,
	consumer stereo.Consumer,
	opts runOptions,
	logger logging.Logger,
) error {
	pipeline, err := stereo.NewPipelineFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	pipeline.DebugFrames(opts.debugFrames...)

	queue, err := camera.NewFrameQueue(cfg.Pipeline.QueueDepth, cfg.Pipeline.DropPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	capture := camera.NewStereoCapture(left, right, queue, logger.Sublogger("capture"))
	capture.Start(ctx)
	defer capture.Stop()

	if opts.reportInterval > 0 {
		reporter := pipeline.Diagnostics().StartReporting(opts.reportInterval, logger.Sublogger("diagnostics"))
		defer reporter.Stop()
	}

	handled := 0
	err = pipeline.Run(ctx, queue, stereo.ConsumerFunc(func(ctx context.Context, result *stereo.FrameResult) error {
		defer func() {
			handled++
			if opts.frames > 0 && handled >= opts.frames {
				cancel()
			}
		}()
		if consumer == nil {
			return nil
		}
		return consumer.HandleFrame(ctx, result)
	}))
	if errors.Is(err, context.Canceled) && opts.frames > 0 && handled >= opts.frames {
		err = nil
	}

	snapshot := pipeline.Diagnostics().Snapshot()
	logger.Infow("pipeline stopped",
		"frames", snapshot.FramesProcessed,
		"failed", snapshot.FramesFailed,
		"dropped", queue.Dropped(),
		"mismatched", capture.Mismatched(),
		"matched", snapshot.Matched,
		"resolved", snapshot.Resolved,
		"borrowed", snapshot.Borrowed,
		"unresolved", snapshot.Unresolved)
	return err
}
