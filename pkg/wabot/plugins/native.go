package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

// CommandsSymbol is the variable a native plugin must export.
const CommandsSymbol = "Commands"

// NativeLoader loads Go plugins built with -buildmode=plugin.
type NativeLoader struct {
	// Dir is the plugin directory; files resolving outside it are refused.
	Dir string
}

func (l *NativeLoader) Extensions() []string { return []string{".so"} }

// Load opens the shared object and reads its exported commands.
func (l *NativeLoader) Load(path string) (*Plugin, error) {
	if trusted, reason := isTrustedPlugin(path, l.Dir); !trusted {
		return nil, loadError(path, errors.New(reason))
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, loadError(path, fmt.Errorf("opening plugin: %w", err))
	}
	sym, err := p.Lookup(CommandsSymbol)
	if err != nil {
		return nil, loadError(path, fmt.Errorf("plugin does not export %s", CommandsSymbol))
	}
	cmds, ok := sym.(*[]bot.Command)
	if !ok || cmds == nil {
		return nil, loadError(path, fmt.Errorf("%s has type %T, want *[]bot.Command", CommandsSymbol, sym))
	}

	name := baseName(path)
	out := make([]bot.Command, 0, len(*cmds))
	for _, c := range *cmds {
		if c.Handler == nil {
			return nil, loadError(path, errors.New("command without handler"))
		}
		if c.Pattern == nil && c.On == bot.MediaNone {
			return nil, loadError(path, errors.New("command without pattern or media selector"))
		}
		if c.Source == "" {
			c.Source = name
		}
		out = append(out, c)
	}
	return &Plugin{Name: name, Path: path, Commands: out}, nil
}

// isTrustedPlugin checks whether a .so file is safe to load.
// Returns (true, "") if trusted, or (false, reason) if not.
func isTrustedPlugin(pluginPath, pluginDir string) (bool, string) {
	realPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve symlinks: %v", err)
	}
	realDir, err := filepath.EvalSymlinks(pluginDir)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve plugin dir: %v", err)
	}
	realPath, _ = filepath.Abs(realPath)
	realDir, _ = filepath.Abs(realDir)
	if !strings.HasPrefix(realPath, realDir+string(filepath.Separator)) {
		return false, fmt.Sprintf("plugin escapes plugin directory: %s -> %s", pluginPath, realPath)
	}

	if runtime.GOOS != "windows" {
		dirInfo, err := os.Stat(realDir)
		if err != nil {
			return false, fmt.Sprintf("cannot stat plugin dir: %v", err)
		}
		if dirInfo.Mode().Perm()&0o002 != 0 {
			return false, fmt.Sprintf("plugin directory is world-writable: %s", pluginDir)
		}
		fileInfo, err := os.Stat(realPath)
		if err != nil {
			return false, fmt.Sprintf("cannot stat plugin: %v", err)
		}
		if fileInfo.Mode().Perm()&0o002 != 0 {
			return false, fmt.Sprintf("plugin file is world-writable: %s", pluginPath)
		}
	}
	return true, ""
}
