package gateway

import "sync"

// command is one unit of work for the authority loop.
type command func()

// commandQueue is an unbounded FIFO shared by every caller and drained by
// the Run loop. A one-slot signal channel coalesces wakeups.
type commandQueue struct {
	mu     sync.Mutex
	cmds   []command
	closed bool
	signal chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		cmds:   make([]command, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends cmd. It returns false once the queue is closed.
func (q *commandQueue) Enqueue(cmd command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.cmds = append(q.cmds, cmd)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front command without blocking.
func (q *commandQueue) TryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cmds) == 0 {
		return nil, false
	}
	cmd := q.cmds[0]
	q.cmds[0] = nil
	if len(q.cmds) == 1 {
		q.cmds = q.cmds[:0]
	} else {
		q.cmds = q.cmds[1:]
	}
	return cmd, true
}

// Wait returns the wakeup channel. It is closed by Close.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// Drained reports whether the queue is closed and empty.
func (q *commandQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.cmds) == 0
}

// Close rejects further commands and wakes the loop.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
