package cdp

import (
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"

	"github.com/grafana/xk6-webview/queue"
)

// Event is a CDP event received from the browser. Data holds the decoded
// event parameters, e.g. *page.EventFrameNavigated.
type Event struct {
	Name      cdproto.MethodType
	SessionID target.SessionID
	Data      any
}

type subscription struct {
	sessionID target.SessionID
	// events is nil when subscribed to every event of the session.
	events map[cdproto.MethodType]struct{}
	queue  *queue.Queue[*Event]
}

func (s *subscription) matches(ev *Event) bool {
	if s.sessionID != ev.SessionID {
		return false
	}
	if s.events == nil {
		return true
	}
	_, ok := s.events[ev.Name]

	return ok
}

// eventWatcher fans events out to subscriptions. Every subscription buffers
// without bound so that the receive loop never waits for a slow consumer.
type eventWatcher struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

func newEventWatcher() *eventWatcher {
	return &eventWatcher{
		subs: make(map[*subscription]struct{}),
	}
}

func (w *eventWatcher) subscribe(sessionID target.SessionID, events ...cdproto.MethodType) *subscription {
	s := &subscription{
		sessionID: sessionID,
		queue:     queue.New[*Event](),
	}
	if len(events) > 0 {
		s.events = make(map[cdproto.MethodType]struct{}, len(events))
		for _, ev := range events {
			s.events[ev] = struct{}{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		s.queue.Close()
		return s
	}
	w.subs[s] = struct{}{}

	return s
}

func (w *eventWatcher) unsubscribe(s *subscription) {
	w.mu.Lock()
	delete(w.subs, s)
	w.mu.Unlock()

	s.queue.Close()
}

func (w *eventWatcher) notify(ev *Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for s := range w.subs {
		if s.matches(ev) {
			s.queue.Push(ev)
		}
	}
}

// close ends every subscription.
func (w *eventWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	for s := range w.subs {
		s.queue.Close()
		delete(w.subs, s)
	}
}
