package history

import (
	"sync"
	"time"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

// Store keeps a bounded mark-price series per instrument. Writers (ingestor,
// preloader) push points; every other component reads through Snapshot, which
// returns an independent copy so reads stay consistent while pushes continue.
type Store struct {
	window time.Duration

	mu        sync.RWMutex
	series    map[string][]domain.PricePoint
	precision map[string]int

	now func() time.Time
}

func NewStore(window time.Duration) *Store {
	return &Store{
		window:    window,
		series:    make(map[string][]domain.PricePoint),
		precision: make(map[string]int),
		now:       time.Now,
	}
}

// Window returns the retention duration.
func (s *Store) Window() time.Duration { return s.window }

// Push inserts a point and evicts everything older than the window. Points
// that are not newer than the last stored timestamp for the instrument are
// ignored, keeping each series strictly ordered.
func (s *Store) Push(p domain.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := s.series[p.Instrument]
	if n := len(pts); n > 0 && !p.Timestamp.After(pts[n-1].Timestamp) {
		return
	}
	pts = append(pts, p)

	cutoff := p.Timestamp.Add(-s.window)
	start := 0
	for start < len(pts) && pts[start].Timestamp.Before(cutoff) {
		start++
	}
	if start > 0 {
		// Reallocate so the evicted prefix can be collected.
		trimmed := make([]domain.PricePoint, len(pts)-start)
		copy(trimmed, pts[start:])
		pts = trimmed
	}
	s.series[p.Instrument] = pts

	if p.Precision > s.precision[p.Instrument] {
		s.precision[p.Instrument] = p.Precision
	}
}

// Snapshot returns a copy of the instrument's series restricted to the
// window. Unknown instruments yield an empty slice.
func (s *Store) Snapshot(instID string) []domain.PricePoint {
	cutoff := s.now().Add(-s.window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := s.series[instID]
	start := 0
	for start < len(pts) && pts[start].Timestamp.Before(cutoff) {
		start++
	}
	out := make([]domain.PricePoint, len(pts)-start)
	copy(out, pts[start:])
	return out
}

// Latest returns the most recent point for the instrument.
func (s *Store) Latest(instID string) (domain.PricePoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.series[instID]
	if len(pts) == 0 {
		return domain.PricePoint{}, false
	}
	return pts[len(pts)-1], true
}

// Precision returns the highest decimal count observed for the instrument,
// defaulting to 2 when nothing is known yet.
func (s *Store) Precision(instID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.precision[instID]; ok && p > 0 {
		return p
	}
	return 2
}

// Instruments lists the instruments that currently hold data.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for id := range s.series {
		out = append(out, id)
	}
	return out
}
