package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dronetrack-rl/internal/admin"
	"dronetrack-rl/internal/airsim"
	"dronetrack-rl/internal/config"
	"dronetrack-rl/internal/curriculum"
	"dronetrack-rl/internal/env"
	"dronetrack-rl/internal/logging"
	"dronetrack-rl/internal/record"
)

var (
	runConfigPath   string
	runSchemaPath   string
	runEpisodeCount int
	runMaxSteps     int
	runPolicy       string
	runCurriculum   string
	runAdminAddr    string
	runWriterOpts   writerOptions
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive episodes against the simulator",
	Long:  "run connects to AirSim and drives episodes with a built-in policy, recording step and episode telemetry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		pol, err := newPolicy(runPolicy, cfg.Randomization.Seed)
		if err != nil {
			return err
		}
		progress, err := loadCurriculum(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var display *admin.Server
		var extraSteps []record.StepWriter
		var extraEpisodes []record.EpisodeWriter
		if runAdminAddr != "" {
			display = admin.NewServer()
			extraSteps = append(extraSteps, display)
			extraEpisodes = append(extraEpisodes, display)
		}

		opts := runWriterOpts
		if opts.mqttClientID == "" {
			opts.mqttClientID = fmt.Sprintf("dronetrack-rl-%d", os.Getpid())
		}
		ws, err := newWriters(ctx, cfg, opts, extraSteps, extraEpisodes)
		if err != nil {
			return err
		}
		defer ws.cleanup()

		var logOut io.Writer = os.Stderr
		if ws.tui != nil {
			logOut = io.Discard
		}
		logger := logging.NewWithLevel(logOut, cfg.LogLevel)
		slog.SetDefault(logger)
		ctx = logging.NewContext(ctx, logger)

		dialCtx, cancelDial := context.WithTimeout(ctx, cfg.Simulator.DialTimeout)
		client, err := airsim.Dial(dialCtx, cfg.Simulator.Address, cfg.Simulator.Vehicle)
		cancelDial()
		if err != nil {
			return err
		}
		defer client.Close()

		envOpts := []env.Option{env.WithStepWriter(ws.steps), env.WithEpisodeWriter(ws.episodes)}
		if display != nil {
			dial := func(ctx context.Context) (env.FrameSource, error) {
				c, err := airsim.Dial(ctx, cfg.Simulator.Address, cfg.Simulator.Vehicle)
				if err != nil {
					return nil, err
				}
				return c, nil
			}
			envOpts = append(envOpts, env.WithOverlay(dial, display))
		}
		e := env.New(cfg, client, envOpts...)
		if progress != nil {
			e.SetRandomization(progress.Stage(), progress.Randomization())
		}

		if display != nil {
			display.SetStatus(func() admin.Status {
				return admin.Status{Connected: e.Connected(), Flying: e.Flying(), Overlay: e.OverlayStats()}
			})
			go func() {
				if err := display.Start(ctx, runAdminAddr); err != nil {
					logger.Error("display server failed", "error", err)
				}
			}()
			if ws.tui != nil {
				ws.tui.SetAdminStatus(true)
			}
		}

		if err := e.Connect(ctx); err != nil {
			return err
		}
		runErr := runEpisodes(ctx, e, pol, progress)

		// Close must still reach the simulator after an interrupt.
		closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancelClose()
		if err := e.Close(closeCtx); err != nil {
			logger.Warn("close incomplete", "error", err)
		}
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	},
}

// runEpisodes resets and steps until the episode budget is used or ctx ends.
func runEpisodes(ctx context.Context, e *env.Env, pol policy, progress *curriculum.Progress) error {
	log := logging.FromContext(ctx)
	for i := 0; runEpisodeCount <= 0 || i < runEpisodeCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ep, obs, err := e.Reset(ctx)
		if err != nil {
			if errors.Is(err, env.ErrFrameSkipped) {
				log.Warn("reset observation unusable, retrying", "error", err)
				continue
			}
			return fmt.Errorf("reset: %w", err)
		}
		for !ep.Done && (runMaxSteps <= 0 || ep.Steps < runMaxSteps) {
			res, err := e.Step(ctx, ep, pol.Act(obs))
			if err != nil {
				if errors.Is(err, env.ErrFrameSkipped) {
					log.Warn("observation unusable, abandoning episode", "episode", ep.ID, "error", err)
					break
				}
				return fmt.Errorf("step: %w", err)
			}
			obs = res.Observation
		}
		e.Truncate(ctx, ep)
		if progress != nil && progress.Observe(ep.Summary(e.RunID(), time.Now())) {
			e.SetRandomization(progress.Stage(), progress.Randomization())
		}
	}
	return nil
}

// loadCurriculum resolves the --curriculum flag, falling back to the
// configured path. "builtin" selects the distance curriculum.
func loadCurriculum(cfg *config.EnvConfig) (*curriculum.Progress, error) {
	path := runCurriculum
	if path == "" {
		path = cfg.Curriculum
	}
	var c *curriculum.Curriculum
	switch path {
	case "":
		return nil, nil
	case "builtin":
		c = curriculum.BuiltIn()
	default:
		var err error
		if c, err = curriculum.Load(path); err != nil {
			return nil, err
		}
	}
	return curriculum.NewProgress(c, cfg.Randomization), nil
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/env.yaml", "Path to environment configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/env.cue", "Path to CUE schema file")
	runCmd.Flags().IntVar(&runEpisodeCount, "episodes", 10, "Number of episodes to run (0 runs until interrupted)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 500, "Step limit per episode (0 for none)")
	runCmd.Flags().StringVar(&runPolicy, "policy", "random", "Built-in policy: random or hover")
	runCmd.Flags().StringVar(&runCurriculum, "curriculum", "", "Curriculum YAML path, or builtin")
	runCmd.Flags().StringVar(&runAdminAddr, "admin", ":8080", "Display server address (empty to disable)")
	runCmd.Flags().BoolVar(&runWriterOpts.printOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	runCmd.Flags().BoolVar(&runWriterOpts.color, "color", false, "Colorize STDOUT output")
	runCmd.Flags().BoolVar(&runWriterOpts.tui, "tui", false, "Show a terminal monitor when STDOUT is a terminal")
	runCmd.Flags().BoolVar(&runWriterOpts.onlyEpisodes, "episodes-only", false, "Print only episode summaries")
	runCmd.Flags().StringVar(&runWriterOpts.logFile, "log-file", "", "Path to export step logs (JSONL); episodes go to <path>.episodes")
	runCmd.Flags().StringVar(&runWriterOpts.mqttBroker, "mqtt-broker", "", "MQTT broker host:port for episode publishing")
	runCmd.Flags().StringVar(&runWriterOpts.mqttPrefix, "mqtt-prefix", "dronetrack", "MQTT topic prefix")
	runCmd.Flags().StringVar(&runWriterOpts.mqttClientID, "mqtt-client-id", "", "MQTT client id")
	runCmd.Flags().BoolVar(&runWriterOpts.mqttSteps, "mqtt-steps", false, "Also publish every step over MQTT")
}
