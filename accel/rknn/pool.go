package rknn

import (
	"context"
	"fmt"
	"sync"
)

// slot is a runtime together with its batch buffer
type slot struct {
	rt    *Runtime
	batch *Batch
}

// Pool holds one runtime per NPU core for the same model
type Pool struct {
	slots chan *slot
	size  int
	close sync.Once
}

// NewPool loads size runtimes of modelFile, pinning each to the next core
// in cores
func NewPool(size int, modelFile string, cores []CoreMask) (*Pool, error) {

	if size <= 0 || len(cores) == 0 {
		return nil, fmt.Errorf("invalid pool size %d with %d cores", size, len(cores))
	}

	p := &Pool{
		slots: make(chan *slot, size),
		size:  size,
	}

	for i := 0; i < size; i++ {
		rt, err := NewRuntime(modelFile, cores[i%len(cores)])

		if err != nil {
			p.Close()
			return nil, err
		}

		s := &slot{rt: rt}

		if n := rt.inputAttrs[0].Batch(); n > 1 {
			w, h, c := rt.InputSize()
			s.batch = NewBatch(n, h, w, c)
		}

		p.slots <- s
	}

	return p, nil
}

// get borrows a slot, blocking until one is free or ctx is done
func (p *Pool) get(ctx context.Context) (*slot, error) {
	select {
	case s, ok := <-p.slots:
		if !ok {
			return nil, fmt.Errorf("pool closed")
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// anyRuntime returns one of the runtimes for inspection.  Every runtime
// holds the same model.
func (p *Pool) anyRuntime(ctx context.Context) (*Runtime, error) {

	s, err := p.get(ctx)

	if err != nil {
		return nil, err
	}

	defer p.put(s)

	return s.rt, nil
}

func (p *Pool) put(s *slot) {

	if s.batch != nil {
		s.batch.Clear()
	}

	select {
	case p.slots <- s:
	default:
	}
}

// Close the pool and every runtime in it
func (p *Pool) Close() {
	p.close.Do(func() {
		close(p.slots)

		for s := range p.slots {
			if s.batch != nil {
				s.batch.Close()
			}
			_ = s.rt.Close()
		}
	})
}
