package record

import (
	"bufio"
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Lines delivers each newline-terminated line already present in the file
// at path, then, while ctx is live, any lines appended afterward. It is
// used by the replay subcommand to follow a recorded log file the way
// `tail -f` would: an fsnotify watcher wrapped in a goroutine that forwards
// a typed channel, closed when the context is done.
func Lines(ctx context.Context, path string) (<-chan string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		f.Close()
		return nil, err
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer watcher.Close()
		defer f.Close()

		reader := bufio.NewReader(f)
		// pending holds a line whose newline has not been written yet, so
		// it is completed by a later read instead of being dropped.
		pending := ""
		emitAvailable := func() {
			for {
				line, err := reader.ReadString('\n')
				pending += line
				if err != nil {
					return
				}
				out <- pending[:len(pending)-1]
				pending = ""
			}
		}

		emitAvailable()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				emitAvailable()
			case <-watcher.Errors:
				return
			}
		}
	}()

	return out, nil
}
