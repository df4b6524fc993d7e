package corpus

import (
	"context"
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the given paths (files or directories) and calls onChange
// with the changed path on every write or create event. Blocks until the
// context is canceled. Used by the server to retrain on updated sample files.
func Watch(ctx context.Context, paths []string, onChange func(path string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] stopping corpus watcher, %v", ctx.Err())
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				log.Printf("[DEBUG] corpus change detected: %s", event.Name)
				if e := onChange(event.Name); e != nil {
					log.Printf("[WARN] failed to handle change of %s: %v", event.Name, e)
				}
			case e, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] watcher error: %v", e)
			}
		}
	}()

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to add %s to watcher: %w", path, err)
		}
	}
	<-done
	return nil
}
