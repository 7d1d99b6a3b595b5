package quiz

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultKeyTTL     = time.Hour
	defaultMaxPending = 1024
)

// ErrTestNotFound is returned when a test id is unknown, expired, or has
// already been submitted.
var ErrTestNotFound = errors.New("test not found")

type pendingTest struct {
	questions []Question
	createdAt time.Time
}

// Manager holds the answer keys of quizzes that have been generated but not
// yet submitted. A key is consumed exactly once at submit: two concurrent
// submits of the same test id cannot both succeed. Unclaimed keys expire
// after the ttl, and when the pending map is full the oldest key is evicted
// to make room.
type Manager struct {
	mu      sync.Mutex
	pending map[string]pendingTest
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewManager creates a Manager. ttl and maxPending fall back to one hour
// and 1024 entries when non-positive.
func NewManager(ttl time.Duration, maxPending int) *Manager {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &Manager{
		pending: make(map[string]pendingTest),
		ttl:     ttl,
		max:     maxPending,
		now:     time.Now,
	}
}

// Put stores the answer key under a freshly minted test id and returns it.
func (m *Manager) Put(questions []Question) string {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()
	for len(m.pending) >= m.max {
		m.evictOldestLocked()
	}
	m.pending[id] = pendingTest{questions: questions, createdAt: m.now()}
	return id
}

// Take removes and returns the answer key for the test id. A second Take of
// the same id, or a Take of an expired key, fails with ErrTestNotFound.
func (m *Manager) Take(testID string) ([]Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[testID]
	if !ok {
		return nil, ErrTestNotFound
	}
	delete(m.pending, testID)
	if p.createdAt.Before(m.now().Add(-m.ttl)) {
		return nil, ErrTestNotFound
	}
	return p.questions, nil
}

// Submit consumes the test's answer key and grades the submitted answers.
func (m *Manager) Submit(testID string, answers map[int]int) (Summary, error) {
	questions, err := m.Take(testID)
	if err != nil {
		return Summary{}, err
	}
	return Grade(questions, answers), nil
}

// Sweep evicts expired answer keys and reports how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictExpiredLocked()
}

// Len reports the number of pending answer keys.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) evictExpiredLocked() int {
	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, p := range m.pending {
		if p.createdAt.Before(cutoff) {
			delete(m.pending, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, p := range m.pending {
		if oldestID == "" || p.createdAt.Before(oldestAt) {
			oldestID = id
			oldestAt = p.createdAt
		}
	}
	if oldestID != "" {
		delete(m.pending, oldestID)
	}
}
