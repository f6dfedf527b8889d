// Package cmd wires the cobra command surface onto internal/runctl: flag
// parsing, signal handling, and the exit-code contract of a batch process
// multiplexer. There is deliberately no configuration-file layer here; the
// multiplexer's entire configuration is its command-line arguments.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/google/uuid"
	"github.com/oskarlin/multiplex/internal/emitter"
	"github.com/oskarlin/multiplex/internal/record"
	"github.com/oskarlin/multiplex/internal/runctl"
)

var rootCmd = &cobra.Command{
	Use:     "multiplex [flags] COMMAND...",
	Aliases: []string{"mx"},
	Short:   "Run several commands concurrently with dependency-ordered startup",
	Long: "multiplex runs one process per positional argument, each described by a\n" +
		"compact command expression (name, color, start delays, dependencies,\n" +
		"actions, and the command itself), and streams their output as a single\n" +
		"structured, interleavable record stream.",
	Args:          cobra.MinimumNArgs(1),
	RunE:          runMultiplex,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.Flags().Float64P("timeout", "t", 0, "global wall-clock timeout in seconds")
	rootCmd.Flags().Float64("grace", 5, "seconds to wait between termination-escalation steps")
	rootCmd.Flags().String("time", "", "enable timestamp prefix: absolute or relative")
	rootCmd.Flags().Lookup("time").NoOptDefVal = "absolute"
	rootCmd.Flags().BoolP("relative", "r", false, "shorthand for --time=relative")
	rootCmd.Flags().Bool("no-color", false, "disable colorized channel labels")
	rootCmd.Flags().String("record", "", "write a TOML run manifest to this path")

	rootCmd.AddCommand(replayCmd)
}

// parseError reports a failure to parse the command expressions given on the
// command line. It always maps to runctl.ExitParseErr.
type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// exitError carries the process exit code decided by a completed run out of
// RunE, so Execute can set it directly without cobra printing an
// "Error: ..." line for what is not actually a command failure.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute is the CLI entry point.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}

	// A *parseError or any error cobra itself raised (bad flag, unknown
	// command) both map to the parse-error exit code.
	fmt.Fprintln(os.Stderr, "multiplex:", err)
	os.Exit(runctl.ExitParseErr)
}

func runMultiplex(cmd *cobra.Command, args []string) error {
	timeoutSec, _ := cmd.Flags().GetFloat64("timeout")
	graceSec, _ := cmd.Flags().GetFloat64("grace")
	timeMode, err := resolveTimeMode(cmd)
	if err != nil {
		return &parseError{err}
	}
	noColor, _ := cmd.Flags().GetBool("no-color")
	recordPath, _ := cmd.Flags().GetString("record")

	runID := uuid.NewString()
	startedAt := time.Now()

	opts := runctl.Options{
		Timeout:  durationFromSeconds(timeoutSec),
		Grace:    durationFromSeconds(graceSec),
		TimeMode: timeMode,
		NoColor:  noColor,
		Stdout:   os.Stdout,
		RunID:    runID,
	}

	ctl := runctl.New(opts)
	if err := ctl.ParseAll(args); err != nil {
		return &parseError{err}
	}

	ctx, cancel := setupSignalContext(ctl)
	defer cancel()

	code := ctl.Run(ctx)

	if recordPath != "" {
		m := record.NewManifest(runID, "", startedAt)
		m.ExitCode = code
		for _, ch := range ctl.Snapshot() {
			cr := record.ChannelRecord{
				Name:     ch.Name,
				Argv:     ch.Argv,
				Started:  ch.Started,
				ExitCode: ch.Code,
			}
			if ch.Ended {
				cr.EndedAt = ch.EndedAt.Format(time.RFC3339)
			}
			m.Channels = append(m.Channels, cr)
		}
		if err := record.Write(recordPath, m); err != nil {
			fmt.Fprintf(os.Stderr, "multiplex: failed to write --record manifest: %v\n", err)
		}
	}

	return &exitError{code: code}
}

// resolveTimeMode interprets --time and --relative into an emitter.TimeMode.
func resolveTimeMode(cmd *cobra.Command) (emitter.TimeMode, error) {
	if rel, _ := cmd.Flags().GetBool("relative"); rel {
		return emitter.TimeRelative, nil
	}
	if !cmd.Flags().Changed("time") {
		return emitter.TimeOff, nil
	}
	raw, _ := cmd.Flags().GetString("time")
	switch raw {
	case "", "absolute":
		return emitter.TimeAbsolute, nil
	case "relative":
		return emitter.TimeRelative, nil
	default:
		return emitter.TimeOff, fmt.Errorf("multiplex: --time: unknown mode %q", raw)
	}
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// setupSignalContext returns a context canceled on SIGINT or SIGTERM, and
// arranges for the first such signal to also request a controller shutdown
// (idempotent: a second signal has no additional effect).
func setupSignalContext(ctl *runctl.Controller) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctl.RequestShutdown("sigint")
		cancel()
	}()
	return ctx, cancel
}
