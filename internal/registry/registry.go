// Package registry implements the process-wide topic name to Log
// mapping: a mutex-guarded map with compute-if-absent semantics.
package registry

import (
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/log"
	"go.uber.org/zap"
)

// MaxNameLength is the longest a topic name may be.
const MaxNameLength = 255

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName enforces the topic naming rule: non-empty, at most
// MaxNameLength characters, matching [A-Za-z0-9_-]+, and not starting
// with the reserved "__" prefix.
func ValidateName(name string) error {
	if name == "" {
		return brokererr.InvalidArgument("topic name must not be empty")
	}
	if len(name) > MaxNameLength {
		return brokererr.InvalidArgument("topic name exceeds %d characters", MaxNameLength)
	}
	if !nameRE.MatchString(name) {
		return brokererr.InvalidArgument("topic name %q must match ^[A-Za-z0-9_-]+$", name)
	}
	if len(name) >= 2 && name[0] == '_' && name[1] == '_' {
		return brokererr.InvalidArgument("topic name %q uses the reserved __ prefix", name)
	}
	return nil
}

// Registry owns every topic's Log, keyed by validated topic name.
type Registry struct {
	mu      sync.Mutex
	baseDir string
	cfg     log.Config
	logs    map[string]*log.Log
	logger  *zap.Logger
}

// New creates a Registry that stores each topic's segments under
// baseDir/<topicName>, using cfg as the default Log configuration for
// newly created topics.
func New(baseDir string, cfg log.Config) *Registry {
	return &Registry{
		baseDir: baseDir,
		cfg:     cfg,
		logs:    make(map[string]*log.Log),
		logger:  zap.L().Named("registry"),
	}
}

// GetOrCreate validates name, then returns the existing Log for it or
// atomically creates one. Two concurrent callers for the same new name
// observe the same *log.Log.
func (r *Registry) GetOrCreate(name string) (*log.Log, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.logs[name]; ok {
		return l, nil
	}

	l, err := log.Open(filepath.Join(r.baseDir, name), r.cfg)
	if err != nil {
		return nil, err
	}
	r.logs[name] = l
	r.logger.Info("topic created", zap.String("topic", name))
	return l, nil
}

// Create validates name, then atomically creates a new Log for it,
// returning brokererr.Exists if a topic by that name is already
// registered. The existence check and the creation happen under the
// same lock, so two concurrent callers racing to create the same
// not-yet-existing name can never both succeed.
func (r *Registry) Create(name string) (*log.Log, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.logs[name]; ok {
		return nil, brokererr.Exists("topic %q already exists", name)
	}

	l, err := log.Open(filepath.Join(r.baseDir, name), r.cfg)
	if err != nil {
		return nil, err
	}
	r.logs[name] = l
	r.logger.Info("topic created", zap.String("topic", name))
	return l, nil
}

// Get returns the Log for an existing topic, or brokererr.NotFound.
func (r *Registry) Get(name string) (*log.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logs[name]
	if !ok {
		return nil, brokererr.NotFound("topic %q does not exist", name)
	}
	return l, nil
}

// List returns every known topic name in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.logs))
	for name := range r.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete closes and removes a topic's Log and its files. A subsequent
// GetOrCreate for the same name creates a fresh, empty Log.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logs[name]
	if !ok {
		return brokererr.NotFound("topic %q does not exist", name)
	}
	delete(r.logs, name)

	if err := l.Remove(); err != nil {
		return err
	}
	r.logger.Info("topic deleted", zap.String("topic", name))
	return nil
}

// Sweep runs a retention pass over every topic's Log.
func (r *Registry) Sweep() {
	r.mu.Lock()
	logs := make([]*log.Log, 0, len(r.logs))
	for _, l := range r.logs {
		logs = append(logs, l)
	}
	r.mu.Unlock()

	for _, l := range logs {
		l.Sweep()
	}
}

// Close closes every topic's Log. It collects and returns the first
// error encountered but still attempts to close the rest.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, l := range r.logs {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.logs, name)
	}
	return firstErr
}
