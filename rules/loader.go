package rules

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teranos/trellis/errors"
)

// ruleFile is the on-disk shape of the rule configuration.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile parses and validates a YAML rule file. A single bad rule
// rejects the whole file; the caller keeps whatever set it had before.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rule file %s", path)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse rule file %s", path)
	}

	seen := make(map[string]bool, len(file.Rules))
	for _, rule := range file.Rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if seen[rule.ID] {
			return nil, errors.NewInvalidRequestError("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = true
	}
	return file.Rules, nil
}

// FileProvider serves rules from a YAML file and, when watching, swaps
// the active set atomically on file change. Readers never block on a
// reload and never observe a half-applied set.
type FileProvider struct {
	path    string
	log     *zap.SugaredLogger
	mu      sync.RWMutex
	rules   []Rule
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileProvider loads the file once and fails if the initial load is
// invalid. Later reload failures only log; the previous set stays live.
func NewFileProvider(path string, log *zap.SugaredLogger) (*FileProvider, error) {
	rules, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &FileProvider{path: path, log: log, rules: rules}, nil
}

func (p *FileProvider) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// Watch starts reloading on filesystem changes. Watching the directory
// rather than the file keeps the watch alive across editors that
// rename-and-replace on save.
func (p *FileProvider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create rule file watcher")
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "failed to watch %s", filepath.Dir(p.path))
	}

	p.watcher = watcher
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				p.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Warnw("Rule file watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (p *FileProvider) reload() {
	rules, err := LoadFile(p.path)
	if err != nil {
		p.log.Warnw("Rule reload failed, keeping previous set",
			"path", p.path,
			"error", err)
		return
	}

	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()

	p.log.Infow("Rules reloaded", "path", p.path, "count", len(rules))
}

// Close stops the watcher if one was started.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	<-p.done
	return err
}
