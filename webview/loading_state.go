package webview

import "fmt"

// LoadingState is either Loading, with a progress, or Finished.
type LoadingState interface {
	loadingState()
	fmt.Stringer
}

// Loading describes a view between page-started and page-finished. Progress
// is within [0, 1].
type Loading struct {
	Progress float64
}

// Finished describes a view that finished loading its content, or that has
// not started loading anything yet.
type Finished struct{}

func (Loading) loadingState()  {}
func (Finished) loadingState() {}

func (l Loading) String() string { return fmt.Sprintf("loading(%.2f)", l.Progress) }
func (Finished) String() string  { return "finished" }

// loadingFromPercent converts a renderer reported 0-100 progress.
func loadingFromPercent(percent int) Loading {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}

	return Loading{Progress: float64(percent) / 100.0}
}
