package dispatch

import "sync"

// Completion tracks an asynchronous dispatch.
type Completion struct {
	done  chan struct{}
	once  sync.Once
	after func(error)
	err   error
}

func newCompletion(after func(error)) *Completion {
	return &Completion{done: make(chan struct{}), after: after}
}

// finish records the result, runs the after hook and wakes waiters.
func (c *Completion) finish(err error) {
	c.once.Do(func() {
		c.err = err
		if c.after != nil {
			c.after(err)
		}
		close(c.done)
	})
}

// Wait blocks until the dispatch completes and returns its result.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// Done is closed when the dispatch completes.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the result once Done is closed and nil before that.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
