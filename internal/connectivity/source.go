package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source produces values for one named signal.
//
// Run calls report whenever it learns the signal's value (repeats are fine;
// the monitor filters them) and returns when ctx ends.
type Source interface {
	Name() string
	Run(ctx context.Context, report func(online bool)) error
}

// Checker is a Source that can also read its signal once, for processes
// that sync once and exit instead of running sources.
type Checker interface {
	Source
	Check(ctx context.Context) bool
}

// FileSource reads the platform signal from a file the host keeps up to date.
//
// The file holds "online" or "offline" (also accepted: true/false, 1/0,
// up/down). A missing or unreadable file reads as offline. The containing
// directory is watched so the file may be replaced atomically by rename.
type FileSource struct {
	Path string

	// Debounce coalesces bursts of writes. Zero means 100ms.
	Debounce time.Duration
}

// Name implements Source.
func (s *FileSource) Name() string {
	return DefaultSignal
}

// Run implements Source.
func (s *FileSource) Run(ctx context.Context, report func(online bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	debounce := s.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	report(ReadSignalFile(s.Path))

	target := filepath.Clean(s.Path)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case <-timer.C:
			report(ReadSignalFile(s.Path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", s.Path, err)
		}
	}
}

// Check implements Checker.
func (s *FileSource) Check(context.Context) bool {
	return ReadSignalFile(s.Path)
}

// ReadSignalFile parses a signal file. Anything but an online marker is
// offline.
func ReadSignalFile(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	online, _ := ParseSignal(string(b))
	return online
}

// ParseSignal parses an online/offline marker. ok is false for unrecognized
// text, which reads as offline.
func ParseSignal(s string) (online bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "true", "1", "up":
		return true, true
	case "offline", "false", "0", "down":
		return false, true
	}
	return false, false
}

// ProbeSource actively checks that the remote endpoint answers.
//
// Any HTTP response below 500 counts as reachable: a 401 or 404 still proves
// a path to the server. Transport errors and 5xx count as unreachable.
type ProbeSource struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// ProbeSignal is the signal name used by ProbeSource.
const ProbeSignal = "probe"

// Name implements Source.
func (p *ProbeSource) Name() string {
	return ProbeSignal
}

// Run implements Source. It probes immediately, then every Interval
// (default 30s).
func (p *ProbeSource) Run(ctx context.Context, report func(online bool)) error {
	if p.URL == "" {
		return errors.New("probe url is empty")
	}

	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	report(p.Probe(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report(p.Probe(ctx))
		}
	}
}

// Check implements Checker.
func (p *ProbeSource) Check(ctx context.Context) bool {
	return p.Probe(ctx)
}

// Probe performs one reachability check.
func (p *ProbeSource) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// ManualSource is a signal set from code: the CLI --online flag, tests, or a
// host bridge that pushes state instead of writing a file.
type ManualSource struct {
	name string

	mu      sync.Mutex
	value   bool
	updates chan struct{}
}

// NewManualSource returns a source named name starting at initial.
func NewManualSource(name string, initial bool) *ManualSource {
	if name == "" {
		name = DefaultSignal
	}
	return &ManualSource{name: name, value: initial, updates: make(chan struct{}, 1)}
}

// Name implements Source.
func (s *ManualSource) Name() string {
	return s.name
}

// Set changes the signal value. Safe to call before or during Run.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.value = online
	s.mu.Unlock()

	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *ManualSource) get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Check implements Checker.
func (s *ManualSource) Check(context.Context) bool {
	return s.get()
}

// Run implements Source.
func (s *ManualSource) Run(ctx context.Context, report func(online bool)) error {
	report(s.get())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.updates:
			report(s.get())
		}
	}
}
