package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/grafana/xk6-webview/webview"
)

var errQuit = errors.New("quit")

const replHelp = `commands:
  back | forward | reload | stop    navigate
  press                             press the back button
  go <url>                          load a URL
  html <markup>                     load inline HTML, resolved against --base-url
  state                             print the state of the view
  rebind                            move the view to a new page
  help                              print this help
  quit                              exit`

// repl drives a view from lines of commands.
type repl struct {
	state   *webview.State
	nav     *webview.Navigator
	adapter *webview.Adapter
	rebind  func(ctx context.Context) error
	baseURL string
	out     *printer
}

// run executes the commands read from in until it is exhausted, quit is
// entered or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(in)
		s.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- s.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading commands: %w", err)
					}
				default:
				}
				return nil
			}
			err := r.execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				r.out.failure(err)
			}
		}
	}
}

// execute runs one command line.
func (r *repl) execute(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "":
		return nil
	case "back":
		r.nav.RequestBack()
	case "forward":
		r.nav.RequestForward()
	case "reload":
		r.nav.RequestReload()
	case "stop":
		r.nav.RequestStopLoading()
	case "press":
		if !r.adapter.HandleBackPress() {
			r.out.reply("back press not consumed")
		}
	case "go":
		if arg == "" {
			return errors.New("go needs a URL")
		}
		r.state.SetContent(webview.URL(arg))
	case "html":
		if arg == "" {
			return errors.New("html needs markup")
		}
		r.state.SetContent(webview.Data(arg, r.baseURL))
	case "state":
		r.out.snapshot(r.state.Snapshot(), r.nav.CanGoBack(), r.nav.CanGoForward())
	case "rebind":
		if err := r.rebind(ctx); err != nil {
			return fmt.Errorf("rebinding: %w", err)
		}
		r.out.reply("rebound")
	case "help":
		r.out.reply(replHelp)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help", name)
	}

	return nil
}
