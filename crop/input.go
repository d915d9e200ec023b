package crop

import "slices"

// Feed is an InputSource the host pushes already normalized events into.
// Like the Engine it is meant for a single goroutine.
type Feed struct {
	listeners []listener
	next      int
}

type listener struct {
	id      int
	handler func(Event)
}

func (f *Feed) Listen(handler func(Event)) (func(), error) {
	id := f.next
	f.next++
	f.listeners = append(f.listeners, listener{id: id, handler: handler})
	return func() {
		f.listeners = slices.DeleteFunc(f.listeners, func(l listener) bool { return l.id == id })
	}, nil
}

// Push delivers events in order to every current listener, in the order they
// subscribed.
func (f *Feed) Push(events ...Event) {
	for _, ev := range events {
		for _, l := range slices.Clone(f.listeners) {
			l.handler(ev)
		}
	}
}

// Listeners returns the number of active subscriptions.
func (f *Feed) Listeners() int {
	return len(f.listeners)
}
