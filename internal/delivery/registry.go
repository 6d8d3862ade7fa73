package delivery

import "sync"

// listeners is a concurrency-safe listener set shared by Service
// implementations.
type listeners struct {
	mu   sync.Mutex
	next int
	set  map[int]Listener
}

func (l *listeners) add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set == nil {
		l.set = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.set[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.set, id)
			l.mu.Unlock()
		})
	}
}

// notify calls every listener outside the lock so a listener may
// unregister itself.
func (l *listeners) notify(st PackState) {
	l.mu.Lock()
	snap := make([]Listener, 0, len(l.set))
	for _, fn := range l.set {
		snap = append(snap, fn)
	}
	l.mu.Unlock()
	for _, fn := range snap {
		fn(st)
	}
}

func (l *listeners) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.set)
}
