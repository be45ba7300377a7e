// Package plugins loads wabot command plugins from the local plugin
// directory and from the remote plugin records kept in storage.
//
// Two formats are supported, one plugin per file:
//   - YAML manifests (.yaml, .yml) declaring pattern or media triggered
//     replies, reactions, commands and scheduled announcements
//   - Go native plugins (.so) exporting var Commands []bot.Command
//
// Build a native plugin:
//
//	go build -buildmode=plugin -o plugins/tools.so ./tools
package plugins

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

var (
	// ErrPluginFetch marks a remote plugin that could not be downloaded.
	// The plugin stays absent for the run.
	ErrPluginFetch = errors.New("plugin fetch failed")

	// ErrPluginLoad marks a plugin file that failed to initialise. It
	// aborts startup.
	ErrPluginLoad = errors.New("plugin load failed")
)

// namePattern restricts plugin names to safe file names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name can be used as a plugin file name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Plugin is one loaded plugin file.
type Plugin struct {
	Name      string
	Path      string
	Commands  []bot.Command
	Schedules []Schedule
}

// Schedule is a recurring announcement declared by a plugin.
type Schedule struct {
	ID     string
	Cron   string
	ChatID string
	Text   string
	Source string
}

// Loader turns a plugin file into a Plugin.
type Loader interface {
	// Extensions lists the file extensions handled, with leading dot.
	Extensions() []string
	Load(path string) (*Plugin, error)
}

func loadError(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPluginLoad, path, err)
}
