package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"storybot/internal/logging"
)

// Watch reloads the token and folder id whenever their files change on
// disk, for deployments where another process refreshes them. It blocks
// until ctx is cancelled.
func (tm *TokenManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	tokenPath := filepath.Clean(tm.tokenFile)
	folderPath := filepath.Clean(tm.folderIDFile)

	dirs := map[string]struct{}{
		filepath.Dir(tokenPath):  {},
		filepath.Dir(folderPath): {},
	}
	for dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryAuth).Warn("Credential watcher: cannot create %s: %v", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		logging.AuthDebug("Credential watcher: watching %s", dir)
	}

	for {
		select {
		case <-ctx.Done():
			logging.AuthDebug("Credential watcher: stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			tm.handleEvent(event, tokenPath, folderPath)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryAuth).Error("Credential watcher error: %v", err)
		}
	}
}

func (tm *TokenManager) handleEvent(event fsnotify.Event, tokenPath, folderPath string) {
	name := filepath.Clean(event.Name)
	gone := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	changed := event.Op&(fsnotify.Create|fsnotify.Write) != 0

	switch name {
	case tokenPath:
		if gone {
			tm.invalidate(true, false)
			logging.AuthDebug("Token file removed, next call refreshes")
			return
		}
		if changed {
			// Partial writes fail to parse and keep the previous token.
			if err := tm.LoadToken(); err != nil {
				logging.AuthDebug("Token file changed but not loadable yet: %v", err)
				return
			}
			logging.AuthDebug("Token reloaded from %s", tokenPath)
		}
	case folderPath:
		if gone || changed {
			tm.invalidate(false, true)
			logging.AuthDebug("Folder id file changed, cache cleared")
		}
	}
}
