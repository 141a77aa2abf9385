package persona

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ProviderConfig holds configuration for the persona provider
type ProviderConfig struct {
	// Path is the manifest file to load and watch. Empty means the
	// built-in defaults are served and Watch is a no-op.
	Path               string
	StabilityThreshold time.Duration
	Logger             zerolog.Logger
}

// Provider serves the active persona manifest and hot-reloads it when the
// manifest file changes on disk.
type Provider struct {
	path               string
	stabilityThreshold time.Duration
	loader             *Loader
	logger             zerolog.Logger

	mu      sync.RWMutex
	current Manifest

	watcher    *fsnotify.Watcher
	done       chan struct{}
	debounce   *time.Timer
	debounceMu sync.Mutex
	stopOnce   sync.Once
}

// NewProvider creates a new persona provider. When a path is configured the
// manifest is loaded immediately and an invalid file is an error.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 100 * time.Millisecond
	}

	p := &Provider{
		path:               config.Path,
		stabilityThreshold: config.StabilityThreshold,
		loader:             NewLoader(config.Logger),
		logger:             config.Logger.With().Str("component", "persona-provider").Logger(),
		current:            DefaultManifest(),
		done:               make(chan struct{}),
	}

	if config.Path != "" {
		manifest, err := p.loader.Load(config.Path)
		if err != nil {
			return nil, err
		}
		p.current = *manifest
	}

	return p, nil
}

// Current returns the active manifest
func (p *Provider) Current() Manifest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch starts watching the manifest file for changes. Editors replace
// files by rename, so the parent directory is watched and events are
// filtered down to the manifest path.
func (p *Provider) Watch() error {
	if p.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch manifest directory: %w", err)
	}

	p.watcher = watcher

	// Start event loop
	go p.eventLoop()

	p.logger.Info().
		Str("path", p.path).
		Msg("Persona watcher started")

	return nil
}

// Stop stops the watcher
func (p *Provider) Stop() error {
	p.stopOnce.Do(func() {
		close(p.done)
	})

	// Cancel a pending debounced reload
	p.debounceMu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounceMu.Unlock()

	if p.watcher == nil {
		return nil
	}

	if err := p.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	p.logger.Info().Msg("Persona watcher stopped")
	return nil
}

// eventLoop processes file system events
func (p *Provider) eventLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleEvent(event)

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error().Err(err).Msg("Watcher error")

		case <-p.done:
			return
		}
	}
}

// handleEvent handles a file system event
func (p *Provider) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(p.path) {
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	// Debounce rapid write bursts to the same file
	p.debounceReload()
}

// debounceReload schedules a reload once writes settle
func (p *Provider) debounceReload() {
	p.debounceMu.Lock()
	defer p.debounceMu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(p.stabilityThreshold, func() {
		select {
		case <-p.done:
			return
		default:
			p.reload()
		}
	})
}

// reload loads the manifest and swaps it in. A manifest that fails
// validation is rejected and the previous one keeps serving.
func (p *Provider) reload() {
	manifest, err := p.loader.Load(p.path)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("path", p.path).
			Msg("Persona reload rejected")
		return
	}

	p.mu.Lock()
	p.current = *manifest
	p.mu.Unlock()

	p.logger.Info().
		Str("name", manifest.Name).
		Str("voice", manifest.Voice).
		Msg("Persona reloaded")
}
