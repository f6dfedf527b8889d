package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oskarlin/multiplex/internal/record"
)

var replayCmd = &cobra.Command{
	Use:   "replay MANIFEST",
	Short: "Print a --record manifest's summary and tail its log file",
	Long: "replay reads a TOML run manifest written by --record, prints a\n" +
		"one-line summary per channel, and, if the manifest names a log file,\n" +
		"tails it the way `tail -f` would until interrupted.",
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]
	m, err := record.Read(path)
	if err != nil {
		return fmt.Errorf("multiplex replay: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s  started %s  exit %d\n", m.RunID, m.StartedAt, m.ExitCode)
	for _, ch := range m.Channels {
		state := "not started"
		switch {
		case ch.Started && ch.EndedAt != "":
			state = fmt.Sprintf("exit %d at %s", ch.ExitCode, ch.EndedAt)
		case ch.Started:
			state = "started, no end recorded"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\t%s\n", ch.Name, joinArgv(ch.Argv), state)
	}

	if m.LogFile == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	lines, err := record.Lines(ctx, m.LogFile)
	if err != nil {
		return fmt.Errorf("multiplex replay: tailing %s: %w", m.LogFile, err)
	}
	for line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
