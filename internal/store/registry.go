package store

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Registry hands out one Store per store key.
type Registry struct {
	dir    string
	logger Logger
	now    func() time.Time
	stores *xsync.Map[string, *Store]
}

// NewRegistry creates a registry persisting stores under dir.
//
// Parameters:
//   - dir: Directory the store files live in; created on first write
//   - logger: Logger passed to every store (nil for none)
func NewRegistry(dir string, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		stores: xsync.NewMap[string, *Store](),
	}
}

// Open returns the store for storeKey, creating it on first use. The write
// period of the first call wins; later calls reuse the existing store.
func (r *Registry) Open(storeKey string, writePeriod time.Duration) *Store {
	s, loaded := r.stores.LoadOrCompute(storeKey, func() (*Store, bool) {
		return newStore(r.dir, storeKey, writePeriod, r.logger, r.now), false
	})
	if loaded {
		r.logger.Debug("reusing persisted store", "key", s.key)
	} else {
		r.logger.Debug("created persisted store", "key", s.key, "path", s.path)
	}
	return s
}
