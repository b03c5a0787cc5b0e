package operations

import (
	"sync"
	"time"

	"sxmcli/pkg/contracts/domain"
	"sxmcli/pkg/contracts/events"
)

// BatchResult is the retained outcome of one finished batch. Maps is
// set for matrix fit batches, Changed for refresh batches; index parse
// batches carry only their stats since the parsed frames live in the
// dataset index.
type BatchResult struct {
	Token      string            `json:"token"`
	Kind       string            `json:"kind"`
	Cancelled  bool              `json:"cancelled"`
	Stats      events.BatchStats `json:"stats"`
	Maps       *domain.FitMaps   `json:"maps,omitempty"`
	Changed    []string          `json:"changed,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ResultStore retains finished batch outcomes in memory. A result is
// stored before the batch's BatchDone event is delivered, so a consumer
// that observed BatchDone can always fetch it.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]*BatchResult
}

// NewResultStore creates an empty in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]*BatchResult),
	}
}

// put stores the outcome of a finished batch, replacing any previous
// entry for the same token.
func (s *ResultStore) put(res *BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[res.Token] = res
}

// Get retrieves a finished batch outcome by token.
func (s *ResultStore) Get(token string) (*BatchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[token]
	if !ok {
		return nil, false
	}

	// Return a copy so callers cannot mutate the stored entry.
	resCopy := *res
	return &resCopy, true
}

// Delete removes a retained outcome once a collaborator is done with
// it.
func (s *ResultStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.results, token)
}

// CleanupOlderThan removes outcomes that finished more than olderThan
// ago and reports how many were dropped.
func (s *ResultStore) CleanupOlderThan(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for token, res := range s.results {
		if res.FinishedAt.Before(cutoff) {
			delete(s.results, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of retained outcomes.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.results)
}
