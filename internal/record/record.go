// Package record implements the opt-in --record/replay feature: a TOML
// manifest describing a completed run (its channels, their argv, and exit
// codes) written alongside the structured stdout stream, plus a reader used
// by the "replay" subcommand to tail a prior run's log. This is additive to
// the stdout stream, never a replacement sink, and the multiplexer itself
// never reads it back.
package record

import (
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// ChannelRecord captures one channel's outcome for the manifest.
type ChannelRecord struct {
	Name     string   `toml:"name"`
	Argv     []string `toml:"argv"`
	Started  bool     `toml:"started"`
	ExitCode int      `toml:"exit_code"`
	EndedAt  string   `toml:"ended_at,omitempty"`
}

// Manifest is the top-level shape of a run's TOML record file.
type Manifest struct {
	RunID     string          `toml:"run_id"`
	StartedAt string          `toml:"started_at"`
	ExitCode  int             `toml:"exit_code"`
	LogFile   string          `toml:"log_file"`
	Channels  []ChannelRecord `toml:"channels"`
}

// Write serializes m to path, guarded by an advisory file lock so a
// concurrent reader (the replay subcommand, mid-tail) never observes a
// half-written manifest.
func Write(path string, m Manifest) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("record: acquiring lock: %w", err)
	}
	defer lock.Unlock()

	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("record: marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("record: writing %s: %w", path, err)
	}
	return nil
}

// Read parses a manifest file written by Write.
func Read(path string) (Manifest, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return Manifest{}, fmt.Errorf("record: acquiring read lock: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("record: reading %s: %w", path, err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("record: parsing %s: %w", path, err)
	}
	return m, nil
}

// NewManifest seeds a Manifest for a run starting now, against logFile.
func NewManifest(runID, logFile string, startedAt time.Time) Manifest {
	return Manifest{
		RunID:     runID,
		StartedAt: startedAt.Format(time.RFC3339),
		LogFile:   logFile,
	}
}
