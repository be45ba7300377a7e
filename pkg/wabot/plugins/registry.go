package plugins

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/database"
	"github.com/jholhewres/wabot/pkg/wabot/security"
)

// maxPluginSize caps a downloaded plugin file.
const maxPluginSize = 32 << 20

// Config holds plugin registry configuration.
type Config struct {
	// Dir is the local plugin directory (default: "./plugins").
	Dir string `yaml:"dir"`

	// Native enables loading .so plugins.
	Native bool `yaml:"native"`

	// AllowExec enables exec actions in manifests.
	AllowExec bool `yaml:"allow_exec"`

	// FetchTimeout bounds each remote download (default: 30s).
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// Guard restricts the hosts plugins may be fetched from.
	Guard security.GuardConfig `yaml:"guard"`
}

// Records lists the remote plugin records.
type Records interface {
	List(ctx context.Context) ([]database.PluginRecord, error)
}

// Registry discovers and loads plugins.
type Registry struct {
	cfg     Config
	records Records
	loaders map[string]Loader
	guard   *security.FetchGuard
	client  *http.Client
	logger  *slog.Logger

	builtins []bot.Command
	plugins  []*Plugin
	loaded   map[string]bool
}

// NewRegistry creates a registry over the configured directory. records
// may be nil when no storage is available.
func NewRegistry(cfg Config, records Records, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "./plugins"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	r := &Registry{
		cfg:     cfg,
		records: records,
		loaders: make(map[string]Loader),
		guard:   security.NewFetchGuard(cfg.Guard, logger),
		logger:  logger.With("component", "plugins"),
		loaded:  make(map[string]bool),
	}
	r.client = r.guard.Client(cfg.FetchTimeout)

	r.AddLoader(&ManifestLoader{AllowExec: cfg.AllowExec})
	if cfg.Native {
		r.AddLoader(&NativeLoader{Dir: cfg.Dir})
	}
	return r
}

// AddLoader registers a loader for its extensions, replacing any previous
// loader for the same extension.
func (r *Registry) AddLoader(l Loader) {
	for _, ext := range l.Extensions() {
		r.loaders[strings.ToLower(ext)] = l
	}
}

// Register adds builtin commands, which always come first.
func (r *Registry) Register(cmds ...bot.Command) {
	r.builtins = append(r.builtins, cmds...)
}

// Dir returns the plugin directory.
func (r *Registry) Dir() string { return r.cfg.Dir }

// Plugins returns the plugins loaded from files, in load order.
func (r *Registry) Plugins() []*Plugin {
	return append([]*Plugin(nil), r.plugins...)
}

// Schedules returns every schedule declared by loaded plugins.
func (r *Registry) Schedules() []Schedule {
	var out []Schedule
	for _, p := range r.plugins {
		out = append(out, p.Schedules...)
	}
	return out
}

// Load builds the full command list: builtins, local files, then remote
// records whose file is missing, then any file not yet loaded. A fetch
// failure leaves that plugin out; a load failure aborts.
func (r *Registry) Load(ctx context.Context) ([]bot.Command, error) {
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}

	if err := r.loadDir(); err != nil {
		return nil, err
	}

	if r.records != nil {
		records, err := r.records.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list plugin records: %w", err)
		}
		for _, rec := range records {
			if _, ok := r.LocalFile(rec.Name); ok {
				continue
			}
			file, err := r.Fetch(ctx, rec)
			if err != nil {
				r.logger.Warn("plugins: fetch failed", "name", rec.Name, "url", rec.URL, "error", err)
				continue
			}
			if err := r.loadFile(file); err != nil {
				return nil, err
			}
		}
	}

	if err := r.loadDir(); err != nil {
		return nil, err
	}

	cmds := append([]bot.Command(nil), r.builtins...)
	for _, p := range r.plugins {
		cmds = append(cmds, p.Commands...)
	}

	r.logger.Info("plugins: loading complete",
		"plugins", len(r.plugins), "commands", len(cmds), "dir", r.cfg.Dir)
	return cmds, nil
}

// loadDir loads every supported file in the directory not yet loaded, in
// name order.
func (r *Registry) loadDir() error {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading plugin dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		file := filepath.Join(r.cfg.Dir, name)
		if r.loaded[file] {
			continue
		}
		if r.loader(file) == nil {
			if strings.EqualFold(filepath.Ext(name), ".so") {
				r.logger.Debug("plugins: native plugins disabled, skipping", "file", name)
			}
			continue
		}
		if err := r.loadFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadFile(file string) error {
	l := r.loader(file)
	if l == nil {
		return loadError(file, errors.New("unsupported plugin type"))
	}
	p, err := l.Load(file)
	if err != nil {
		return err
	}
	r.loaded[file] = true
	r.plugins = append(r.plugins, p)

	r.logger.Info("plugins: loaded", "name", p.Name, "file", file,
		"commands", len(p.Commands), "schedules", len(p.Schedules))
	return nil
}

func (r *Registry) loader(file string) Loader {
	return r.loaders[strings.ToLower(filepath.Ext(file))]
}

// LocalFile returns the file of the named plugin, trying every supported
// extension.
func (r *Registry) LocalFile(name string) (string, bool) {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		file := filepath.Join(r.cfg.Dir, name+ext)
		if _, err := os.Stat(file); err == nil {
			return file, true
		}
	}
	return "", false
}

// Fetch downloads rec into the plugin directory and returns the written
// file. Nothing is written unless the server answers 200 and the optional
// checksum matches.
func (r *Registry) Fetch(ctx context.Context, rec database.PluginRecord) (string, error) {
	if !ValidName(rec.Name) {
		return "", fmt.Errorf("%w: invalid plugin name %q", ErrPluginFetch, rec.Name)
	}
	ext := extensionOf(rec.URL)
	if r.loaders[ext] == nil {
		return "", fmt.Errorf("%w: unsupported plugin type %q", ErrPluginFetch, ext)
	}
	if err := r.guard.Check(rec.URL); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPluginFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPluginFetch, err)
	}
	req.Header.Set("User-Agent", "wabot")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPluginFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d from %s", ErrPluginFetch, resp.StatusCode, rec.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPluginSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrPluginFetch, err)
	}
	if len(body) > maxPluginSize {
		return "", fmt.Errorf("%w: plugin exceeds %d bytes", ErrPluginFetch, maxPluginSize)
	}
	if want := strings.ToLower(strings.TrimSpace(rec.SHA256)); want != "" {
		sum := sha256.Sum256(body)
		if got := hex.EncodeToString(sum[:]); got != want {
			return "", fmt.Errorf("%w: checksum mismatch: got %s, want %s", ErrPluginFetch, got, want)
		}
	}

	file := filepath.Join(r.cfg.Dir, rec.Name+ext)
	if err := writeFileAtomic(file, body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPluginFetch, err)
	}

	r.logger.Info("plugins: fetched", "name", rec.Name, "url", rec.URL, "bytes", len(body))
	return file, nil
}

// Install fetches a new plugin and checks that it loads. The plugin becomes
// active on the next start. The file is removed again when it is invalid.
func (r *Registry) Install(ctx context.Context, rec database.PluginRecord) (*Plugin, error) {
	if _, ok := r.LocalFile(rec.Name); ok {
		return nil, fmt.Errorf("%w: %s", database.ErrPluginExists, rec.Name)
	}
	file, err := r.Fetch(ctx, rec)
	if err != nil {
		return nil, err
	}

	var p *Plugin
	if ml, ok := r.loader(file).(*ManifestLoader); ok {
		p, err = ml.Load(file)
	} else {
		// Opening a shared object cannot be undone; only the first bytes
		// are checked here.
		p, err = checkSharedObject(file)
	}
	if err != nil {
		os.Remove(file)
		return nil, err
	}
	return p, nil
}

// RemoveFiles deletes every local file of the named plugin.
func (r *Registry) RemoveFiles(name string) (bool, error) {
	if !ValidName(name) {
		return false, fmt.Errorf("invalid plugin name %q", name)
	}
	removed := false
	for {
		file, ok := r.LocalFile(name)
		if !ok {
			return removed, nil
		}
		if err := os.Remove(file); err != nil {
			return removed, fmt.Errorf("remove %s: %w", file, err)
		}
		removed = true
	}
}

// NameFromURL derives a plugin name from the last path element of rawURL.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// extensionOf returns the plugin file extension implied by rawURL,
// defaulting to .yaml.
func extensionOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".yaml", ".yml", ".so":
			return ext
		}
	}
	return ".yaml"
}

func checkSharedObject(file string) (*Plugin, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, loadError(file, err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil || !bytes.Equal(magic, []byte("\x7fELF")) {
		return nil, loadError(file, errors.New("not an ELF shared object"))
	}
	return &Plugin{Name: baseName(file), Path: file}, nil
}

func writeFileAtomic(file string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}
