package relay

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type parkedPickup struct {
	ch       chan *Command
	parkedAt time.Time
	elem     *list.Element
}

// Rendezvous matches agent pickups against the command backlog. While a
// pickup is parked the backlog is empty, so handing a fresh command straight
// to the oldest parked pickup keeps delivery in creation order.
type Rendezvous struct {
	mu         sync.Mutex
	backlog    *list.List // *Command
	parked     *list.List // *parkedPickup
	lastPickup time.Time
	now        func() time.Time
}

func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		backlog: list.New(),
		parked:  list.New(),
		now:     time.Now,
	}
}

// Enqueue hands cmd to the oldest parked pickup or appends it to the backlog.
func (r *Rendezvous) Enqueue(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deliverLocked(cmd) {
		return
	}
	r.backlog.PushBack(cmd)
}

// requeue puts a command that could not reach the agent back at the head.
func (r *Rendezvous) requeue(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deliverLocked(cmd) {
		return
	}
	r.backlog.PushFront(cmd)
}

func (r *Rendezvous) deliverLocked(cmd *Command) bool {
	front := r.parked.Front()
	if front == nil {
		return false
	}
	p := r.parked.Remove(front).(*parkedPickup)
	p.elem = nil
	// ch has capacity 1 and receives exactly one value once unparked.
	p.ch <- cmd
	return true
}

// Pickup returns the oldest backlog command, or parks until one arrives or
// wait elapses. A nil command means "no command". If ctx ends after a command
// was handed over, the command is put back so it is not lost.
func (r *Rendezvous) Pickup(ctx context.Context, wait time.Duration) *Command {
	r.mu.Lock()
	r.lastPickup = r.now()
	if front := r.backlog.Front(); front != nil {
		cmd := r.backlog.Remove(front).(*Command)
		r.mu.Unlock()
		return cmd
	}
	p := &parkedPickup{ch: make(chan *Command, 1), parkedAt: r.now()}
	p.elem = r.parked.PushBack(p)
	r.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case cmd := <-p.ch:
		return r.handOver(ctx, cmd)
	case <-timer.C:
	case <-ctx.Done():
	}

	r.mu.Lock()
	if p.elem != nil {
		r.parked.Remove(p.elem)
		p.elem = nil
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	// Unparked concurrently: a value is already buffered.
	return r.handOver(ctx, <-p.ch)
}

func (r *Rendezvous) handOver(ctx context.Context, cmd *Command) *Command {
	if cmd != nil && ctx.Err() != nil {
		r.requeue(cmd)
		return nil
	}
	return cmd
}

// Requeue returns a command whose delivery failed after Pickup returned it.
func (r *Rendezvous) Requeue(cmd *Command) {
	if cmd != nil {
		r.requeue(cmd)
	}
}

// SweepParked releases pickups parked before cutoff with "no command".
func (r *Rendezvous) SweepParked(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for e := r.parked.Front(); e != nil; {
		next := e.Next()
		p := e.Value.(*parkedPickup)
		if p.parkedAt.Before(cutoff) {
			r.parked.Remove(e)
			p.elem = nil
			p.ch <- nil
			n++
		}
		e = next
	}
	return n
}

// LastPickup is the time of the most recent pickup attempt, zero if none.
func (r *Rendezvous) LastPickup() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPickup
}

func (r *Rendezvous) BacklogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backlog.Len()
}

func (r *Rendezvous) ParkedLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parked.Len()
}
