package timeslots

import "sync"

// Handler receives every non-empty DiffEntry produced by an Engine.
type Handler func(DiffEntry)

// Subscription is returned by Engine.Subscribe.
type Subscription struct {
	id   uint64
	list *handlerList
	once sync.Once
}

// Unsubscribe stops further deliveries. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.list == nil {
		return
	}
	s.once.Do(func() {
		s.list.remove(s.id)
	})
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type handlerList struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []handlerEntry
}

func (l *handlerList) add(fn Handler) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: l.nextID, fn: fn})
	return &Subscription{id: l.nextID, list: l}
}

func (l *handlerList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
			return
		}
	}
}

func (l *handlerList) notify(e DiffEntry) {
	l.mu.RLock()
	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, h := range handlers {
		h.fn(e.clone())
	}
}
