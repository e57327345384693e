// Package memory implements the cache interfaces in process for
// single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

type submission struct {
	bidID   string
	expires time.Time
}

// Submissions remembers which bid each submission token produced for a
// limited time. It is safe for concurrent use.
type Submissions struct {
	mu   sync.Mutex
	seen map[string]submission
	now  func() time.Time
}

// NewSubmissions creates an empty Submissions cache.
func NewSubmissions() *Submissions {
	return &Submissions{
		seen: make(map[string]submission),
		now:  time.Now,
	}
}

// Remember records bidID under key unless an unexpired entry already exists.
func (s *Submissions) Remember(_ context.Context, key, bidID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.seen[key]; ok && now.Before(prev.expires) {
		return false, nil
	}
	s.seen[key] = submission{bidID: bidID, expires: now.Add(ttl)}
	return true, nil
}

// Lookup returns the bid recorded under key.
func (s *Submissions) Lookup(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.seen[key]
	if !ok || !s.now().Before(sub.expires) {
		return "", fmt.Errorf("memory: submission %s: %w", key, domain.ErrNotFound)
	}
	return sub.bidID, nil
}

// Cleanup removes expired entries. Call it periodically to bound memory use.
func (s *Submissions) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, sub := range s.seen {
		if !now.Before(sub.expires) {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

var _ domain.SubmissionCache = (*Submissions)(nil)
