// Package sched implements the per-CPU run-queue scheduler and SMP
// bring-up sequence.
//
// Grounded on original_source's SMP_Scheduler/RunQueue
// (include/kernel/smp_scheduler.h) and Scheduler::timer_tick/schedule
// (kernel/process/scheduler.cpp), expressed with package proc's Task_t
// instead of a raw intrusive C struct, and with package stats's counter
// style for the tick/steal instrumentation.
package sched

import (
	"sync"

	"proc"
)

// Runqueue_t is one CPU's doubly linked list of ready tasks, guarded by
// its own lock so picking a task on one CPU never contends with another
// CPU's local enqueue/dequeue -- the "SpinLock lock" field
// original_source's RunQueue carries.
type Runqueue_t struct {
	mu         sync.Mutex
	head, tail *proc.Task_t
	n          int
}

// Len reports the number of tasks currently queued.
func (q *Runqueue_t) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// PushBack appends t to the tail of the queue.
func (q *Runqueue_t) PushBack(t *proc.Task_t) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.Next = nil
	t.Prev = q.tail
	if q.tail != nil {
		q.tail.Next = t
	} else {
		q.head = t
	}
	q.tail = t
	q.n++
}

// PopFront removes and returns the task at the head of the queue, or nil
// if it is empty.
func (q *Runqueue_t) PopFront() *proc.Task_t {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.Next
	if q.head != nil {
		q.head.Prev = nil
	} else {
		q.tail = nil
	}
	t.Next, t.Prev = nil, nil
	q.n--
	return t
}
