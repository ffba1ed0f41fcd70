package webview

import (
	"context"
	"sync"
	"time"

	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/queue"
)

// Field identifies a State field in a Change.
type Field int

// State fields.
const (
	FieldContent Field = iota
	FieldLoadingState
	FieldPageTitle
	FieldPageIcon
	FieldErrors
)

func (f Field) String() string {
	switch f {
	case FieldContent:
		return "content"
	case FieldLoadingState:
		return "loadingState"
	case FieldPageTitle:
		return "pageTitle"
	case FieldPageIcon:
		return "pageIcon"
	case FieldErrors:
		return "errors"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of a State.
type Snapshot struct {
	Content      Content
	LoadingState LoadingState
	PageTitle    null.String
	PageIcon     []byte
	Errors       []LoadError
}

// IsLoading reports whether the snapshot is in a Loading state.
func (s Snapshot) IsLoading() bool {
	_, finished := s.LoadingState.(Finished)
	return !finished
}

// Change is published after every State write. Snapshot is the state right
// after the write.
type Change struct {
	Field    Field
	At       time.Time
	Snapshot Snapshot
}

// State holds the state of a view. Any goroutine can read it. Only the
// content can be written from outside the adapter, to request navigation.
type State struct {
	mu sync.RWMutex

	content      Content
	loadingState LoadingState
	pageTitle    null.String
	pageIcon     []byte
	errors       []LoadError

	subs          map[*queue.Queue[Change]]struct{}
	contentWatch  map[int]func()
	nextWatcherID int
}

// NewState returns a state showing content, in the Finished state.
func NewState(content Content) *State {
	return &State{
		content:      content,
		loadingState: Finished{},
		subs:         make(map[*queue.Queue[Change]]struct{}),
		contentWatch: make(map[int]func()),
	}
}

// NewURLState returns a state that loads url.
func NewURLState(url string) *State {
	return NewState(URL(url))
}

// NewDataState returns a state that loads inline data. An empty baseURL
// means no base URL.
func NewDataState(data, baseURL string) *State {
	return NewState(Data(data, baseURL))
}

// Content returns the content being loaded.
func (s *State) Content() Content {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.content
}

// SetContent replaces the content, requesting the view to load it. The
// content is not validated.
func (s *State) SetContent(c Content) {
	s.write(func() { s.content = c }, FieldContent)

	s.mu.RLock()
	watchers := make([]func(), 0, len(s.contentWatch))
	for _, fn := range s.contentWatch {
		watchers = append(watchers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range watchers {
		fn()
	}
}

// LoadingState returns whether the main frame is loading, and its progress.
func (s *State) LoadingState() LoadingState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadingState
}

// IsLoading reports whether the main frame is loading.
func (s *State) IsLoading() bool {
	_, finished := s.LoadingState().(Finished)
	return !finished
}

// PageTitle returns the title of the current page, if received.
func (s *State) PageTitle() null.String {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pageTitle
}

// PageIcon returns the icon of the current page, or nil.
func (s *State) PageIcon() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pageIcon
}

// Errors returns the errors received while loading the current page, in
// arrival order. Errors can come from any resource, not only the main
// frame. The list is reset when a new page starts loading.
func (s *State) Errors() []LoadError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]LoadError(nil), s.errors...)
}

// Snapshot returns a consistent copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot()
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		Content:      s.content,
		LoadingState: s.loadingState,
		PageTitle:    s.pageTitle,
		PageIcon:     s.pageIcon,
		Errors:       append([]LoadError(nil), s.errors...),
	}
}

// Subscribe returns a channel receiving every change in write order. The
// channel is closed once ctx is done. Slow subscribers never block writers.
func (s *State) Subscribe(ctx context.Context) <-chan Change {
	q := queue.New[Change]()
	s.mu.Lock()
	s.subs[q] = struct{}{}
	s.mu.Unlock()

	ch := make(chan Change)
	go func() {
		defer close(ch)
		defer func() {
			s.mu.Lock()
			delete(s.subs, q)
			s.mu.Unlock()
			q.Close()
		}()
		for {
			c, err := q.Pop(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// watchContent registers fn to run synchronously after every content
// write. It returns a function removing the watcher.
func (s *State) watchContent(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatcherID
	s.nextWatcherID++
	s.contentWatch[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.contentWatch, id)
	}
}

// write applies fn under the lock and publishes one change per field.
func (s *State) write(fn func(), fields ...Field) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshot()
	now := time.Now()
	for q := range s.subs {
		for _, f := range fields {
			q.Push(Change{Field: f, At: now, Snapshot: snap})
		}
	}
}

func (s *State) setLoadingState(ls LoadingState) {
	s.write(func() { s.loadingState = ls }, FieldLoadingState)
}

// pageStarted resets the state for a new page load.
func (s *State) pageStarted() {
	s.write(func() {
		s.loadingState = Loading{Progress: 0}
		s.errors = nil
		s.pageTitle = null.String{}
		s.pageIcon = nil
	}, FieldLoadingState, FieldErrors, FieldPageTitle, FieldPageIcon)
}

// progressChanged moves a loading state forward. A late report after the
// load finished is ignored.
func (s *State) progressChanged(percent int) {
	s.mu.RLock()
	_, finished := s.loadingState.(Finished)
	s.mu.RUnlock()
	if finished {
		return
	}
	s.setLoadingState(loadingFromPercent(percent))
}

func (s *State) setPageTitle(title null.String) {
	s.write(func() { s.pageTitle = title }, FieldPageTitle)
}

func (s *State) setPageIcon(icon []byte) {
	s.write(func() { s.pageIcon = icon }, FieldPageIcon)
}

func (s *State) addError(e LoadError) {
	s.write(func() { s.errors = append(s.errors, e) }, FieldErrors)
}
