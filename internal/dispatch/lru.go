package dispatch

import "container/list"

// eventLRU is a bounded set of recently seen event ids. The hub's QoS 1
// feed may deliver an event twice; membership here means the event was
// already accepted for processing.
//
// Not safe for concurrent use; only the intake goroutine touches it.
type eventLRU struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newEventLRU(capacity int) *eventLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &eventLRU{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen records the id and reports whether it was already present.
// Oldest ids are evicted once capacity is exceeded.
func (l *eventLRU) Seen(id string) bool {
	if elem, ok := l.index[id]; ok {
		l.order.MoveToFront(elem)
		return true
	}

	l.index[id] = l.order.PushFront(id)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
	}
	return false
}

// Len returns the number of tracked ids.
func (l *eventLRU) Len() int {
	return l.order.Len()
}
