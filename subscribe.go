package fieldsync

import "sync"

// subscribers is a registry of event callbacks. emit calls each callback in
// registration order; a panicking callback is isolated from the others.
type subscribers[E any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(E)
	ord  []int
}

func (s *subscribers[E]) add(fn func(E)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[int]func(E))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.ord = append(s.ord, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			for i, v := range s.ord {
				if v == id {
					s.ord = append(s.ord[:i], s.ord[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		})
	}
}

func (s *subscribers[E]) emit(e E) {
	s.mu.Lock()
	fns := make([]func(E), 0, len(s.ord))
	for _, id := range s.ord {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() { _ = recover() }()
			fn(e)
		}()
	}
}
