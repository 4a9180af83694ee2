package authz

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
)

// BootstrapFile is the on-disk form of the bootstrap allow-list
type BootstrapFile struct {
	UIDs   []string `yaml:"uids"`
	Emails []string `yaml:"emails"`
}

// BootstrapList holds pre-provisioned identities that pass the elevated-role
// check before any super-user exists. Emails only match verified identities.
type BootstrapList struct {
	mu     sync.RWMutex
	uids   map[string]bool
	emails map[string]bool
}

// NewBootstrapList creates a list from explicit uids and emails
func NewBootstrapList(uids, emails []string) *BootstrapList {
	b := &BootstrapList{}
	b.Replace(uids, emails)
	return b
}

// LoadBootstrapFile reads a YAML allow-list
func LoadBootstrapFile(path string) (*BootstrapFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap file: %w", err)
	}
	var file BootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap file: %w", err)
	}
	return &file, nil
}

// Replace swaps the list contents atomically
func (b *BootstrapList) Replace(uids, emails []string) {
	nextUIDs := make(map[string]bool, len(uids))
	for _, uid := range uids {
		if uid = strings.TrimSpace(uid); uid != "" {
			nextUIDs[uid] = true
		}
	}
	nextEmails := make(map[string]bool, len(emails))
	for _, email := range emails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			nextEmails[email] = true
		}
	}

	b.mu.Lock()
	b.uids, b.emails = nextUIDs, nextEmails
	b.mu.Unlock()
}

// Allows reports whether identity is on the list
func (b *BootstrapList) Allows(identity *auth.Identity) bool {
	if b == nil || identity == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.uids[identity.UID] {
		return true
	}
	return identity.EmailVerified && identity.Email != "" && b.emails[strings.ToLower(identity.Email)]
}

// Len returns the number of configured entries
func (b *BootstrapList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.uids) + len(b.emails)
}

// Watch reloads the list from path whenever the file changes, merging the
// file contents with the static uids and emails. It returns a stop function.
// A file that fails to parse leaves the previous list in place.
func (b *BootstrapList) Watch(path string, uids, emails []string, logger *observability.Logger) (func() error, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	reload := func() {
		file, err := LoadBootstrapFile(path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("Keeping previous bootstrap list")
			return
		}
		b.Replace(append(append([]string(nil), uids...), file.UIDs...), append(append([]string(nil), emails...), file.Emails...))
		logger.WithField("entries", b.Len()).Info("Bootstrap list loaded")
	}
	reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer observability.RecoverPanic(logger, "bootstrap watcher")
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == target && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Bootstrap watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
