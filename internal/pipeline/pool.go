package pipeline

import "sync"

// Pool runs chunk tasks on a fixed set of workers. The pool size bounds how
// many chunks are in flight at once, which is the backpressure that keeps a
// large document from holding all of its rendered pages in memory together.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func())}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit blocks until a worker accepts the task.
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}
