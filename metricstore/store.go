// Package metricstore holds a device's ordered metric sequence plus the four
// lookup indices (by name, by alias, by address, by address+path) the device
// layer needs to route inbound driver data and outbound commands.
package metricstore

import (
	"sync"

	"github.com/edgeconduit/edgelink/models"
)

type addrPathKey struct {
	address string
	path    string
}

// Store is an ordered metric sequence with four indices rebuilt on every
// Add. All mutation methods are safe for concurrent use, though the device
// layer's single-actor discipline means contention is expected to be rare.
type Store struct {
	mu sync.RWMutex

	metrics []models.Metric

	byName     map[string]int
	byAlias    map[uint64]int
	byAddress  map[string][]int
	byAddrPath map[addrPathKey]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byName:     make(map[string]int),
		byAlias:    make(map[uint64]int),
		byAddress:  make(map[string][]int),
		byAddrPath: make(map[addrPathKey]int),
	}
}

// Add appends metrics to the ordered sequence and rebuilds all indices.
func (s *Store) Add(metrics ...models.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, metrics...)
	s.rebuildLocked()
}

func (s *Store) rebuildLocked() {
	s.byName = make(map[string]int, len(s.metrics))
	s.byAlias = make(map[uint64]int, len(s.metrics))
	s.byAddress = make(map[string][]int, len(s.metrics))
	s.byAddrPath = make(map[addrPathKey]int, len(s.metrics))

	for i, m := range s.metrics {
		s.byName[m.Name] = i
		if m.Alias != nil {
			s.byAlias[*m.Alias] = i
		}
		if m.Properties.Address != "" {
			s.byAddress[m.Properties.Address] = append(s.byAddress[m.Properties.Address], i)
			if m.Properties.IsReadable() {
				key := addrPathKey{m.Properties.Address, m.Properties.Path}
				s.byAddrPath[key] = i
			}
		}
	}
}

// Length returns the number of metrics held.
func (s *Store) Length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// Array returns a copy of the ordered metric sequence.
func (s *Store) Array() []models.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Metric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// Addresses returns the distinct addresses registered in the (address,path)
// index — i.e. the addresses of GET metrics, not every address in the plain
// address index.
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.byAddrPath))
	out := make([]string, 0, len(s.byAddrPath))
	for k := range s.byAddrPath {
		if _, ok := seen[k.address]; !ok {
			seen[k.address] = struct{}{}
			out = append(out, k.address)
		}
	}
	return out
}

// SetAlias assigns an alias to the metric at ordered index i and rebuilds
// the alias index.
func (s *Store) SetAlias(i int, alias uint64) (models.Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.metrics) {
		return models.Metric{}, false
	}
	s.metrics[i].Alias = &alias
	s.rebuildLocked()
	return s.metrics[i], true
}

// GetByName returns the metric with the given name.
func (s *Store) GetByName(name string) (models.Metric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byName[name]
	if !ok {
		return models.Metric{}, false
	}
	return s.metrics[i], true
}

// SetValueByName atomically writes value, timestamp, and isNull for the
// named metric and returns the mutated metric. timestampMs is stored as
// given (a 0 is written as 0, not replaced by the prior timestamp);
// callers that don't have a payload timestamp should pass the wall-clock
// value themselves.
func (s *Store) SetValueByName(name string, value any, timestampMs int64) (models.Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byName[name]
	if !ok {
		return models.Metric{}, false
	}
	return s.setValueLocked(i, value, timestampMs), true
}

// GetByAlias returns the metric with the given alias.
func (s *Store) GetByAlias(alias uint64) (models.Metric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byAlias[alias]
	if !ok {
		return models.Metric{}, false
	}
	return s.metrics[i], true
}

// SetValueByAlias atomically writes value, timestamp, and isNull for the
// metric with the given alias.
func (s *Store) SetValueByAlias(alias uint64, value any, timestampMs int64) (models.Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byAlias[alias]
	if !ok {
		return models.Metric{}, false
	}
	return s.setValueLocked(i, value, timestampMs), true
}

// GetByAddress returns every metric registered under the given address.
func (s *Store) GetByAddress(address string) []models.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := s.byAddress[address]
	out := make([]models.Metric, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.metrics[i])
	}
	return out
}

// GetPathsForAddr returns the distinct paths registered for an address
// among GET metrics.
func (s *Store) GetPathsForAddr(address string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.byAddrPath {
		if k.address == address {
			out = append(out, k.path)
		}
	}
	return out
}

// GetByAddrPath returns the single metric registered for an (address,path)
// pair.
func (s *Store) GetByAddrPath(address, path string) (models.Metric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byAddrPath[addrPathKey{address, path}]
	if !ok {
		return models.Metric{}, false
	}
	return s.metrics[i], true
}

// SetValueByAddrPath atomically writes value, timestamp, and isNull for the
// metric registered at (address,path).
func (s *Store) SetValueByAddrPath(address, path string, value any, timestampMs int64) (models.Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byAddrPath[addrPathKey{address, path}]
	if !ok {
		return models.Metric{}, false
	}
	return s.setValueLocked(i, value, timestampMs), true
}

func (s *Store) setValueLocked(i int, value any, timestampMs int64) models.Metric {
	s.metrics[i].Value = value
	s.metrics[i].IsNull = value == nil
	s.metrics[i].Timestamp = timestampMs
	return s.metrics[i]
}
