// Package workerpool implements the bounded pool that runs blocking work
// (SASL digest computation, SQL roster queries) off a connection's own
// goroutine, grounded in pjs/server.py's threadpool.ThreadPool(5, ...) and
// the wake-up mechanism pjs/connection.py's LocalTriggerConnection exists
// to drive.
package workerpool

import "sync"

// Job is a unit of blocking work submitted to the pool.
type Job func() (interface{}, error)

// Pool runs submitted Jobs on a fixed number of goroutines and invokes each
// job's callback once it's done. Unlike the original's poll-driven reactor
// wake-up (a worker thread writes a byte to a loopback socket so the
// single-threaded asyncore loop notices finished work on its next select()),
// a callback here runs directly on the worker goroutine — callers that
// need to hop back onto a connection's serialized actor loop (see conn/)
// are responsible for doing so inside their callback, exactly the role
// LocalTriggerConnection played for the reactor.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// New starts a Pool with the given number of worker goroutines.
func New(size int) *Pool {
	if size <= 0 {
		size = 5 // matches pjs/server.py's hardcoded default
	}
	p := &Pool{jobs: make(chan func(), size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.jobs {
		fn()
	}
}

// Submit runs job on a pool goroutine and calls done(value, err) once it
// completes.
func (p *Pool) Submit(job Job, done func(value interface{}, err error)) {
	p.jobs <- func() {
		v, err := job()
		done(v, err)
	}
}

// Close stops accepting new work and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
