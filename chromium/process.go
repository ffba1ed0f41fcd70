package chromium

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/osext"
	"github.com/grafana/xk6-webview/storage"
)

// browserProcess is a browser a Session launched or connected to.
type browserProcess struct {
	ctx    context.Context
	cancel context.CancelFunc

	// pid of the browser, -1 when it is remote.
	pid int

	// Channels for managing termination.
	lostConnection             chan struct{}
	processIsGracefullyClosing chan struct{}
	processDone                chan struct{}

	// Browser's WebSocket URL to speak CDP
	wsURL string

	logger *log.Logger
}

// newLocalBrowserProcess starts a local browser process and returns it once
// it listens for CDP clients. The process is killed once ctx is done.
func newLocalBrowserProcess(
	ctx context.Context, path string, args []string, dataDir *storage.Dir,
	ctxCancel context.CancelFunc, timeout time.Duration, logger *log.Logger,
) (*browserProcess, error) {
	cmd, err := execute(ctx, path, args, dataDir, logger)
	if err != nil {
		if cerr := dataDir.Cleanup(); cerr != nil {
			logger.Errorf("browser", "cleaning up the user data directory: %v", cerr)
		}
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	wsURL, err := parseDevToolsURL(pctx, cmd)
	if err != nil {
		return nil, errors.Wrap(err, "waiting for the DevTools URL")
	}

	p := browserProcess{
		ctx:                        ctx,
		cancel:                     ctxCancel,
		pid:                        cmd.Process.Pid,
		lostConnection:             make(chan struct{}),
		processIsGracefullyClosing: make(chan struct{}),
		processDone:                cmd.done,
		wsURL:                      wsURL,
		logger:                     logger,
	}

	go p.handleClose(ctx)
	go drainOutput(cmd.stdout, "stdout", logger)
	go drainOutput(cmd.stderr, "stderr", logger)

	return &p, nil
}

// drainOutput keeps reading r so the browser never blocks on a full pipe.
func drainOutput(r io.Reader, name string, logger *log.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		logger.Tracef("browser:"+name, "%s", sc.Text())
	}
}

// newRemoteBrowserProcess returns a browserProcess referencing a browser
// running elsewhere.
func newRemoteBrowserProcess(
	ctx context.Context, wsURL string, ctxCancel context.CancelFunc, logger *log.Logger,
) *browserProcess {
	p := browserProcess{
		ctx:                        ctx,
		cancel:                     ctxCancel,
		pid:                        -1,
		lostConnection:             make(chan struct{}),
		processIsGracefullyClosing: make(chan struct{}),
		processDone:                make(chan struct{}),
		wsURL:                      wsURL,
		logger:                     logger,
	}

	go p.handleClose(ctx)

	return &p
}

func (p *browserProcess) handleClose(ctx context.Context) {
	// If we lose connection to the browser and we're not in-progress with clean
	// browser-initiated termination then cancel the context to clean up.
	select {
	case <-p.lostConnection:
	case <-ctx.Done():
	}

	select {
	case <-p.processIsGracefullyClosing:
	default:
		p.cancel()
	}
	if p.pid < 0 {
		close(p.processDone)
	}
}

func (p *browserProcess) didLoseConnection() {
	close(p.lostConnection)
}

// gracefulClose triggers a graceful closing of the browser process.
func (p *browserProcess) gracefulClose() {
	p.logger.Debugf("BrowserProcess:gracefulClose", "pid:%d", p.pid)
	close(p.processIsGracefullyClosing)
}

// terminate triggers the termination of the browser process.
func (p *browserProcess) terminate() {
	p.logger.Debugf("BrowserProcess:terminate", "pid:%d", p.pid)
	p.cancel()
}

// done is closed once the process ended and its data directory is removed.
func (p *browserProcess) done() <-chan struct{} {
	return p.processDone
}

type command struct {
	*exec.Cmd
	done           chan struct{}
	stdout, stderr io.Reader
}

func execute(
	ctx context.Context, path string, args []string,
	dataDir *storage.Dir, logger *log.Logger,
) (command, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	killAfterParent(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return command{}, errors.Wrap(err, "piping browser stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return command{}, errors.Wrap(err, "piping browser stderr")
	}

	// We must start the cmd before calling cmd.Wait, as otherwise the two
	// can run into a data race.
	err = cmd.Start()
	if os.IsNotExist(err) {
		return command{}, errors.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return command{}, errors.Wrapf(err, "starting %s", path)
	}
	if ctx.Err() != nil {
		return command{}, ctx.Err() //nolint:wrapcheck
	}
	osext.Register(ctx, logger, cmd.Process.Pid)

	done := make(chan struct{})
	go func() {
		defer func() {
			osext.Unregister(cmd.Process.Pid)
			if err := dataDir.Cleanup(); err != nil {
				logger.Errorf("browser", "cleaning up the user data directory: %v", err)
			}
			close(done)
		}()

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logger.Errorf("browser",
				"process with PID %d unexpectedly ended: %v",
				cmd.Process.Pid, err)
		}
	}()

	return command{cmd, done, stdout, stderr}, nil
}

// parseDevToolsURL grabs the WebSocket address from Chrome's output and returns
// it. If the process ends abruptly, it will return the first error from stderr.
func parseDevToolsURL(ctx context.Context, cmd command) (_ string, err error) {
	parser := &devToolsURLParser{
		sc: bufio.NewScanner(cmd.stderr),
	}
	done := make(chan struct{})
	go func() {
		for parser.scan() {
		}
		close(done)
	}()
	select {
	case <-done:
		err = parser.err()
		if err == nil {
			err = errors.New("browser output ended without a DevTools URL")
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-cmd.done:
		err = errors.New("browser process ended unexpectedly")
	}
	if parser.url != "" {
		err = nil
	}

	return parser.url, err
}

type devToolsURLParser struct {
	sc *bufio.Scanner

	errs []error
	url  string
}

func (p *devToolsURLParser) scan() bool {
	if !p.sc.Scan() {
		return false
	}

	const urlPrefix = "DevTools listening on "

	line := p.sc.Text()
	if strings.HasPrefix(line, urlPrefix) {
		p.url = strings.TrimPrefix(strings.TrimSpace(line), urlPrefix)
	}
	if strings.Contains(line, ":ERROR:") {
		if i := strings.Index(line, "] "); i > 0 {
			p.errs = append(p.errs, errors.New(line[i+2:]))
		}
	}

	return p.url == ""
}

func (p *devToolsURLParser) err() error {
	if p.url != "" {
		return io.EOF
	}
	if len(p.errs) > 0 {
		return p.errs[0]
	}

	err := p.sc.Err()
	if errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("browser process shutdown unexpectedly before establishing a connection: %w", err)
	}
	if err != nil {
		return err //nolint:wrapcheck
	}

	return nil
}
