package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/franz/astrofiler/internal/util"
)

// settleDelay gives a telescope download time to finish writing before
// the file is hashed. Partially-written files would otherwise register
// under a transient content hash.
const settleDelay = 2 * time.Second

// Watch monitors a directory and ingests FITS files as they appear.
// Blocks until the context is cancelled.
func (in *Ingestor) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	util.InfoLog("Watching %s for new FITS files (Ctrl-C to stop)", dir)

	// Coalesce rapid write events per path, ingest after the file
	// settles
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsFitsFile(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			util.WarnLog("Watcher error: %v", err)

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < settleDelay {
					continue
				}
				delete(pending, path)

				f, created, err := in.IngestFile(path)
				switch {
				case err != nil:
					util.ErrorLog("Failed to ingest %s: %v", path, err)
				case created:
					util.SuccessLog("Registered %s (%s)", path, f.FrameType)
				default:
					util.InfoLog("Duplicate content, already registered: %s", path)
				}
			}
		}
	}
}
