// Package queue keeps one ordered triage queue of chat ids per account.
package queue

import (
	"sync"

	"tgtriage/internal/metrics"
	"tgtriage/internal/privacy"
)

// accountQueue is an ordered sequence with a membership set.
// A chat id is in order iff it is in members, exactly once.
type accountQueue struct {
	mu      sync.Mutex
	order   []int64
	members map[int64]struct{}
}

func newAccountQueue() *accountQueue {
	return &accountQueue{members: make(map[int64]struct{})}
}

func (q *accountQueue) push(chatID int64) bool {
	if _, ok := q.members[chatID]; ok {
		return false
	}
	q.members[chatID] = struct{}{}
	q.order = append(q.order, chatID)
	return true
}

func (q *accountQueue) remove(chatID int64) bool {
	if _, ok := q.members[chatID]; !ok {
		return false
	}
	delete(q.members, chatID)
	for i, id := range q.order {
		if id == chatID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

func (q *accountQueue) requeueToTail(chatID int64) bool {
	atTail := len(q.order) > 0 && q.order[len(q.order)-1] == chatID
	q.remove(chatID)
	q.push(chatID)
	return !atTail
}

func (q *accountQueue) head() (int64, bool) {
	if len(q.order) == 0 {
		return 0, false
	}
	return q.order[0], true
}

func (q *accountQueue) snapshot() []int64 {
	out := make([]int64, len(q.order))
	copy(out, q.order)
	return out
}

// Store owns every account queue. Accounts are created on first reference
// and live for the lifetime of the store; the empty key is the default account.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*accountQueue
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{accounts: make(map[string]*accountQueue)}
}

func (s *Store) get(account string) *accountQueue {
	s.mu.RLock()
	q, ok := s.accounts[account]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.accounts[account]; !ok {
		q = newAccountQueue()
		s.accounts[account] = q
	}
	return q
}

// Enqueue appends chatID to the tail unless it is already queued.
// It reports whether the queue changed.
func (s *Store) Enqueue(account string, chatID int64) bool {
	q := s.get(account)
	q.mu.Lock()
	changed := q.push(chatID)
	n := len(q.order)
	q.mu.Unlock()

	record(account, "enqueue", changed, n)
	return changed
}

// EnqueueAll merges chatIDs in order, skipping ones already queued.
// It returns how many were added.
func (s *Store) EnqueueAll(account string, chatIDs []int64) int {
	q := s.get(account)
	q.mu.Lock()
	added := 0
	for _, id := range chatIDs {
		if q.push(id) {
			added++
		}
	}
	n := len(q.order)
	q.mu.Unlock()

	record(account, "merge", added > 0, n)
	return added
}

// Snapshot returns a copy of the current order
func (s *Store) Snapshot(account string) []int64 {
	q := s.get(account)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshot()
}

// Dequeue removes chatID, keeping the relative order of the rest.
// It is a no-op for an absent chat.
func (s *Store) Dequeue(account string, chatID int64) bool {
	q := s.get(account)
	q.mu.Lock()
	changed := q.remove(chatID)
	n := len(q.order)
	q.mu.Unlock()

	record(account, "dequeue", changed, n)
	return changed
}

// RequeueToTail moves chatID to the tail, enqueueing it when absent.
func (s *Store) RequeueToTail(account string, chatID int64) bool {
	q := s.get(account)
	q.mu.Lock()
	changed := q.requeueToTail(chatID)
	n := len(q.order)
	q.mu.Unlock()

	record(account, "requeue", changed, n)
	return changed
}

// Head returns the chat at the front of the queue
func (s *Store) Head(account string) (int64, bool) {
	q := s.get(account)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head()
}

// Apply runs an operator action atomically and returns the resulting head and order.
// done dequeues; postpone and task requeue to the tail, so an absent chat is
// enqueued by them and ignored by done.
func (s *Store) Apply(account string, chatID int64, action Action) (head *int64, order []int64) {
	q := s.get(account)
	q.mu.Lock()
	var changed bool
	if action.MovesToTail() {
		changed = q.requeueToTail(chatID)
	} else {
		changed = q.remove(chatID)
	}
	if first, ok := q.head(); ok {
		head = &first
	}
	order = q.snapshot()
	q.mu.Unlock()

	record(account, string(action), changed, len(order))
	return head, order
}

func record(account, op string, changed bool, length int) {
	if changed {
		metrics.IncrementCounter(metrics.QueueMutations, map[string]string{"op": op}, "Queue mutations by operation")
	}
	metrics.SetGauge(metrics.QueueLength, float64(length), map[string]string{
		"account": privacy.MaskAccount(account),
	}, "Current queue length per account")
}
