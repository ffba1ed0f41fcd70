package webview

import (
	"sync"
	"sync/atomic"

	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/queue"
)

// Command is a navigation command sent to the bound renderer.
type Command int

// Navigation commands.
const (
	CommandBack Command = iota
	CommandForward
	CommandReload
	CommandStopLoading
)

func (c Command) String() string {
	switch c {
	case CommandBack:
		return "back"
	case CommandForward:
		return "forward"
	case CommandReload:
		return "reload"
	case CommandStopLoading:
		return "stopLoading"
	default:
		return "unknown"
	}
}

// generation is the command channel of one renderer binding.
type generation struct {
	id       uint64
	commands *queue.Queue[Command]
}

// Navigator controls the navigation of a view from outside of it, e.g. to
// go back when the user presses an "up" button. Its request methods can be
// called from any goroutine; they return before the command runs.
type Navigator struct {
	mu      sync.Mutex
	current *generation
	nextID  uint64

	canGoBack    atomic.Bool
	canGoForward atomic.Bool

	onCommand func(Command)

	logger *log.Logger
}

// NewNavigator returns a navigator that is not bound to any renderer yet.
// Commands requested before a renderer is bound are dropped.
func NewNavigator(logger *log.Logger) *Navigator {
	if logger == nil {
		logger = log.NewNullLogger()
	}

	return &Navigator{logger: logger}
}

// RequestBack navigates back to the previous page.
func (n *Navigator) RequestBack() { n.request(CommandBack) }

// RequestForward navigates forward after going back from a page.
func (n *Navigator) RequestForward() { n.request(CommandForward) }

// RequestReload reloads the current page.
func (n *Navigator) RequestReload() { n.request(CommandReload) }

// RequestStopLoading stops the current page load, if one is in progress.
func (n *Navigator) RequestStopLoading() { n.request(CommandStopLoading) }

// CanGoBack is true when the view can navigate backwards.
func (n *Navigator) CanGoBack() bool { return n.canGoBack.Load() }

// CanGoForward is true when the view can navigate forwards.
func (n *Navigator) CanGoForward() bool { return n.canGoForward.Load() }

// OnCommand registers fn to be called with every accepted command, on the
// requesting goroutine. It must not block.
func (n *Navigator) OnCommand(fn func(Command)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onCommand = fn
}

func (n *Navigator) request(c Command) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current == nil || !n.current.commands.Push(c) {
		n.logger.Debugf("Navigator:request", "dropping %s: no renderer bound", c)
		return
	}
	if n.onCommand != nil {
		n.onCommand(c)
	}
}

// bind starts a new generation, abandoning the commands still pending in
// the previous one.
func (n *Navigator) bind() *generation {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil {
		n.current.commands.Close()
	}
	n.nextID++
	n.current = &generation{id: n.nextID, commands: queue.New[Command]()}

	return n.current
}

// unbind ends generation g if it is still the current one.
func (n *Navigator) unbind(g *generation) {
	n.mu.Lock()
	defer n.mu.Unlock()

	g.commands.Close()
	if n.current == g {
		n.current = nil
	}
}

// isCurrent reports whether g is the generation commands are sent to.
func (n *Navigator) isCurrent(g *generation) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.current == g
}

func (n *Navigator) setCapability(back, forward bool) {
	n.canGoBack.Store(back)
	n.canGoForward.Store(forward)
}
