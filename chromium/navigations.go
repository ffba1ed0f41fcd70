package chromium

import "sync"

type navKind int

const (
	navURL navKind = iota
	navData
	navReload
	navHistory
	// navAllowed is a navigation the page started and the should-override
	// callback let through.
	navAllowed
)

// maxPendingNavigations bounds the navigations waiting for a commit.
const maxPendingNavigations = 16

type navigation struct {
	kind navKind
	// networkID of the document request, once it was intercepted.
	networkID string
	paused    bool
}

// navigations tells the navigations started through the renderer apart from
// the ones a page starts by itself, such as link clicks. Every navigation
// the renderer starts is expected in order, claims the next intercepted
// document request and is retired once a document commits.
type navigations struct {
	mu      sync.Mutex
	pending []*navigation
}

func (n *navigations) push(nav *navigation) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pending = append(n.pending, nav)
	if len(n.pending) > maxPendingNavigations {
		n.pending = n.pending[len(n.pending)-maxPendingNavigations:]
	}
}

// expect records a navigation started through the renderer.
func (n *navigations) expect(kind navKind) {
	n.push(&navigation{kind: kind})
}

// allow records a navigation the page started that was let through.
func (n *navigations) allow(networkID string) {
	n.push(&navigation{kind: navAllowed, networkID: networkID, paused: true})
}

// intercepted reports whether the document request with networkID belongs to
// an expected navigation, or is a redirect of one.
func (n *navigations) intercepted(networkID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if networkID != "" {
		for _, nav := range n.pending {
			if nav.networkID == networkID {
				return true
			}
		}
	}
	for _, nav := range n.pending {
		if nav.paused || nav.kind == navData || nav.kind == navAllowed {
			continue
		}
		nav.paused = true
		nav.networkID = networkID
		return true
	}

	return false
}

// committed retires the oldest navigation when a document commits. It
// reports whether that navigation was a reload, and whether a newer
// navigation is still pending, which makes the commit stale.
func (n *navigations) committed() (isReload, superseded bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) == 0 {
		return false, false
	}
	nav := n.pending[0]
	n.pending = n.pending[1:]

	return nav.kind == navReload, len(n.pending) > 0
}

// sameDocument retires the oldest navigation if its document request was
// never intercepted, as a fragment navigation has none.
func (n *navigations) sameDocument() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) > 0 && !n.pending[0].paused && n.pending[0].kind == navURL {
		n.pending = n.pending[1:]
	}
}

// stopped drops the navigations whose request was intercepted but which
// never committed, once the page stopped loading.
func (n *navigations) stopped() {
	n.mu.Lock()
	defer n.mu.Unlock()

	kept := n.pending[:0]
	for _, nav := range n.pending {
		if !nav.paused {
			kept = append(kept, nav)
		}
	}
	n.pending = kept
}

func (n *navigations) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.pending)
}

// cancel drops the newest navigation, after the renderer failed to start it.
func (n *navigations) cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) > 0 {
		n.pending = n.pending[:len(n.pending)-1]
	}
}
