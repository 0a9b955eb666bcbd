package binprot

import (
	"sync"
)

// Result is the outcome of one request: a response or an error, never both.
type Result struct {
	Response *Response
	Err      error
}

type pendingRequest struct {
	opaque uint32
	result chan Result
}

// Inflight correlates responses with requests sent on one connection.
//
// The server answers in request order, so pending requests are kept in a
// FIFO. Every pending request receives exactly one Result.
type Inflight struct {
	mu     sync.Mutex
	queue  []*pendingRequest
	failed error
}

// Push registers a request. It must be called in the same order the frames
// are written. If the queue has already been failed, the returned channel
// holds that error.
func (q *Inflight) Push(opaque uint32) <-chan Result {
	p := &pendingRequest{opaque: opaque, result: make(chan Result, 1)}

	q.mu.Lock()
	if q.failed != nil {
		err := q.failed
		q.mu.Unlock()
		p.result <- Result{Err: err}
		return p.result
	}
	q.queue = append(q.queue, p)
	q.mu.Unlock()

	return p.result
}

// Resolve delivers a complete response frame to the request with the same
// opaque. Every older pending request is failed with a *SequenceError since
// its response can no longer arrive.
//
// Returns ErrUnsolicitedResponse if no pending request matches.
func (q *Inflight) Resolve(frame []byte) error {
	opaque := Opaque(frame)

	q.mu.Lock()
	var skipped []*pendingRequest
	var match *pendingRequest
	for len(q.queue) > 0 {
		p := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		if p.opaque == opaque {
			match = p
			break
		}
		skipped = append(skipped, p)
	}
	q.mu.Unlock()

	for _, p := range skipped {
		p.result <- Result{Err: &SequenceError{Expected: p.opaque, Got: opaque}}
	}

	if match == nil {
		return ErrUnsolicitedResponse
	}

	resp, err := ParseResponse(frame)
	if err != nil {
		match.result <- Result{Err: err}
		return nil
	}
	match.result <- Result{Response: resp}
	return nil
}

// FailAll fails every pending request with err. Later pushes fail immediately.
func (q *Inflight) FailAll(err error) {
	q.mu.Lock()
	if q.failed == nil {
		q.failed = err
	}
	queue := q.queue
	q.queue = nil
	q.mu.Unlock()

	for _, p := range queue {
		p.result <- Result{Err: err}
	}
}

// Len returns the number of requests waiting for a response.
func (q *Inflight) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
