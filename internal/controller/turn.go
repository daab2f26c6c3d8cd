package controller

import "sync"

// Deferrer runs fn after the consuming surface has had one turn to react to
// the current update.
type Deferrer interface {
	AfterTurn(fn func())
}

// TurnQueue is a Deferrer driven by its owner: queued functions run on Flush.
type TurnQueue struct {
	mu  sync.Mutex
	fns []func()
}

func NewTurnQueue() *TurnQueue {
	return &TurnQueue{}
}

func (q *TurnQueue) AfterTurn(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Flush runs every queued function, including ones queued while flushing,
// and returns how many ran.
func (q *TurnQueue) Flush() int {
	ran := 0
	for {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return ran
		}
		for _, fn := range fns {
			fn()
			ran++
		}
	}
}

func (q *TurnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}
