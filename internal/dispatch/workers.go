package dispatch

import "sync"

// workerPool is the bounded fan-out used for parallel-safe type groups.
// Tasks are plain closures; the per-frame rendezvous lives in the
// dispatcher, not here.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	p := &workerPool{tasks: make(chan func(), size*2)}
	for i := 0; i < size; i++ {
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

// submit blocks when every worker is busy and the backlog is full, which
// bounds how far a frame can run ahead of its handlers.
func (p *workerPool) submit(task func()) {
	p.tasks <- task
}

// close stops the workers after the backlog drains.
func (p *workerPool) close() {
	close(p.tasks)
	p.wg.Wait()
}
