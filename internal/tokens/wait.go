package tokens

import (
	"context"
	"time"

	"mcpauth/internal/api"
	"mcpauth/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// WaitForToken waits for a token file to appear under dir. A filesystem
// watch delivers the fast path; a poll loop backs it up because the
// spawning OAuth library may have written the file before the watch was
// established, and because some libraries write into nested directories
// the watch does not cover.
//
// Returns nil when attempts are exhausted or ctx is done without a token.
func (s *Store) WaitForToken(ctx context.Context, dir, serverName string, attempts int, interval time.Duration) *api.TokenRecord {
	if record := s.Scan(dir, serverName); record != nil {
		return record
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			logging.Debug("TokenStore", "Cannot watch %s, polling only: %v", dir, err)
		}
	} else {
		logging.Debug("TokenStore", "fsnotify unavailable, polling only: %v", err)
		watcher = nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < attempts; {
		var events chan fsnotify.Event
		if watcher != nil {
			events = watcher.Events
		}

		select {
		case <-ctx.Done():
			return nil
		case event := <-events:
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if record := s.Scan(dir, serverName); record != nil {
				return record
			}
		case <-ticker.C:
			attempt++
			if record := s.Scan(dir, serverName); record != nil {
				return record
			}
			logging.Debug("TokenStore", "No token for %s yet (attempt %d/%d)", serverName, attempt, attempts)
		}
	}
	return nil
}
