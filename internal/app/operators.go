package app

import (
	"strings"
	"sync"

	"broadcastbot/internal/broadcast"
	"broadcastbot/internal/config"
)

// operatorSet is the live operator table, swapped atomically on config
// reload. It backs both the router's permission checks and the admin
// audience segment.
type operatorSet struct {
	mu   sync.RWMutex
	byID map[int64]broadcast.Operator
}

func newOperatorSet(cfgs []config.OperatorConfig) *operatorSet {
	s := &operatorSet{}
	s.replace(cfgs)
	return s
}

func (s *operatorSet) replace(cfgs []config.OperatorConfig) {
	byID := make(map[int64]broadcast.Operator, len(cfgs))
	for _, c := range cfgs {
		byID[c.ID] = broadcast.Operator{
			ID:   c.ID,
			Name: c.Name,
			Role: broadcast.Role(strings.ToLower(c.Role)),
		}
	}
	s.mu.Lock()
	s.byID = byID
	s.mu.Unlock()
}

func (s *operatorSet) Operator(id int64) (broadcast.Operator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.byID[id]
	return op, ok
}

func (s *operatorSet) ReviewerIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.byID))
	for id, op := range s.byID {
		if op.Role.CanReview() {
			ids = append(ids, id)
		}
	}
	return ids
}

// AdminIDs lists operators that count as the admin audience segment.
func (s *operatorSet) AdminIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.byID))
	for id, op := range s.byID {
		if op.Role.CanSendDirect() {
			ids = append(ids, id)
		}
	}
	return ids
}
