package irc

import "sync"

// outMessage is one outbound command bound for a channel: a PRIVMSG
// payload line, or a JOIN/PART membership change.
type outMessage struct {
	command string
	target  string
	text    string
}

// sendQueue is the bounded outbound buffer of one session. A multi-line
// commit message is admitted whole or not at all, so a saturated queue
// never emits half a message.
type sendQueue struct {
	mu       sync.Mutex
	items    []outMessage
	capacity int

	// ready is signalled (capacity 1) whenever items go from empty to
	// non-empty.
	ready chan struct{}
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// push enqueues all lines, or none when they would exceed capacity.
func (q *sendQueue) push(target string, lines []string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items)+len(lines) > q.capacity {
		return false
	}
	wasEmpty := len(q.items) == 0
	for _, line := range lines {
		q.items = append(q.items, outMessage{command: "PRIVMSG", target: target, text: line})
	}
	if wasEmpty && len(q.items) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return true
}

// pushControl enqueues a membership command (JOIN or PART). Control
// traffic bypasses the capacity check so a saturated queue cannot
// starve a config reload.
func (q *sendQueue) pushControl(command, target string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	wasEmpty := len(q.items) == 0
	q.items = append(q.items, outMessage{command: command, target: target})
	if wasEmpty {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
}

// pop removes the head, reporting ok=false on an empty queue.
func (q *sendQueue) pop() (outMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return outMessage{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// depth reports the number of queued announcement lines. Control
// messages do not count against the admission limit.
func (q *sendQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.command == "PRIVMSG" {
			n++
		}
	}
	return n
}
