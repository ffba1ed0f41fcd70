// Package chromium renders web views in a Chromium browser driven over the
// DevTools protocol.
package chromium

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/grafana/xk6-webview/cdp"
	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/storage"
	"github.com/grafana/xk6-webview/webview"
)

// Session is a browser, launched or running elsewhere, with a CDP client
// connected to it.
type Session struct {
	client *cdp.Client
	proc   *browserProcess
	opts   *LaunchOptions
	logger *log.Logger

	closeOnce sync.Once
}

// Launch starts a browser, or connects to the one at opts.WSURL. The
// browser is killed once ctx is done.
func Launch(ctx context.Context, opts *LaunchOptions, logger *log.Logger) (_ *Session, rerr error) {
	if opts == nil {
		opts = DefaultLaunchOptions()
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts.WSURL != "" {
		return Connect(ctx, opts.WSURL, opts, logger)
	}

	flags := prepareFlags(opts)

	dataDir := &storage.Dir{}
	if err := dataDir.Make(opts.tmpdir(), flags["user-data-dir"]); err != nil {
		return nil, errors.Wrap(err, "launching browser")
	}
	flags["user-data-dir"] = dataDir.Dir

	path, err := executablePath(opts.ExecutablePath, opts.lookup(), exec.LookPath)
	if err != nil {
		_ = dataDir.Cleanup()
		return nil, errors.Wrap(err, "finding browser executable")
	}
	args, err := parseArgs(flags)
	if err != nil {
		_ = dataDir.Cleanup()
		return nil, errors.Wrap(err, "launching browser")
	}

	procCtx, procCancel := context.WithCancel(ctx)
	defer func() {
		if rerr != nil {
			procCancel()
		}
	}()
	logger.Debugf("Session:Launch", "path:%q args:%v", path, args)
	proc, err := newLocalBrowserProcess(procCtx, path, args, dataDir, procCancel, opts.timeout(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "launching browser")
	}

	return newSession(proc, opts, logger)
}

// Connect connects to the browser listening for CDP clients at wsURL. The
// connection is closed once ctx is done.
func Connect(ctx context.Context, wsURL string, opts *LaunchOptions, logger *log.Logger) (_ *Session, rerr error) {
	if opts == nil {
		opts = DefaultLaunchOptions()
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}
	procCtx, procCancel := context.WithCancel(ctx)
	defer func() {
		if rerr != nil {
			procCancel()
		}
	}()

	return newSession(newRemoteBrowserProcess(procCtx, wsURL, procCancel, logger), opts, logger)
}

func newSession(proc *browserProcess, opts *LaunchOptions, logger *log.Logger) (*Session, error) {
	client := cdp.NewClient(proc.ctx, logger)

	ctx, cancel := context.WithTimeout(proc.ctx, opts.timeout())
	defer cancel()
	if err := client.Connect(ctx, proc.wsURL); err != nil {
		return nil, errors.Wrap(err, "connecting to browser")
	}

	s := &Session{
		client: client,
		proc:   proc,
		opts:   opts,
		logger: logger,
	}
	go func() {
		<-client.Done()
		proc.didLoseConnection()
	}()

	return s, nil
}

// Client returns the CDP client connected to the browser.
func (s *Session) Client() *cdp.Client {
	return s.client
}

// Pid returns the process ID of the browser, or -1 if it is remote.
func (s *Session) Pid() int {
	return s.proc.pid
}

// Version returns the product name and version of the browser.
func (s *Session) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout())
	defer cancel()

	v, err := s.client.Browser.GetVersion(ctx)
	if err != nil {
		return "", errors.Wrap(err, "querying browser")
	}

	return v.Product, nil
}

// NewRenderer opens a new page running its callbacks on loop.
func (s *Session) NewRenderer(ctx context.Context, loop webview.Dispatcher) (*Renderer, error) {
	return NewRenderer(ctx, s.client, loop, RendererOptions{
		Timeout:             s.opts.timeout(),
		InterceptNavigation: s.opts.InterceptNavigation,
	}, s.logger)
}

// Close closes a launched browser and returns once it exited, or
// disconnects from a remote one.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.proc.gracefulClose()

		if s.proc.pid >= 0 {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.timeout())
			// The browser often exits before replying.
			if cerr := s.client.Browser.Close(ctx); cerr != nil {
				s.logger.Debugf("Session:Close", "closing browser: %v", cerr)
			}
			cancel()
		}
		if cerr := s.client.Close(); cerr != nil {
			s.logger.Debugf("Session:Close", "closing CDP client: %v", cerr)
		}
		s.proc.terminate()

		select {
		case <-s.proc.done():
		case <-time.After(s.opts.timeout()):
			err = errors.Errorf("browser with PID %d did not exit in %s", s.proc.pid, s.opts.timeout())
		}
	})

	return err
}
