package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-webview/env"
	"github.com/grafana/xk6-webview/eventloop"
	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/osext"
	"github.com/grafana/xk6-webview/otel"
	"github.com/grafana/xk6-webview/storage"
	"github.com/grafana/xk6-webview/trace"
	"github.com/grafana/xk6-webview/webview"
)

// viewID identifies the only view of the command in traces.
const viewID = "cli"

// This is to keep all fields needed for the root command.
type rootCommand struct {
	cmd    *cobra.Command
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	launch launchFunc

	html              string
	baseURL           string
	headless          bool
	executablePath    string
	wsURL             string
	debug             bool
	logCategoryFilter string
	iconsDir          string
	tracesEndpoint    string
	noColor           bool
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer, launch launchFunc) *rootCommand {
	c := &rootCommand{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		launch: launch,
	}
	c.cmd = &cobra.Command{
		Use:   "webview [url]",
		Short: "Drive a web view from the command line",
		Long: `Open a web view on a browser page and drive it with commands read
from the standard input. Every change of the view is printed.

The K6_WEBVIEW_* environment variables are read first; flags override them.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}
	c.cmd.SetIn(stdin)
	c.cmd.SetOut(stdout)
	c.cmd.SetErr(stderr)
	c.cmd.Flags().AddFlagSet(c.flagSet())

	return c
}

func (c *rootCommand) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringVar(&c.html, "html", "", "open inline `markup` instead of a URL")
	flags.StringVar(&c.baseURL, "base-url", "", "`URL` the inline markup is resolved against")
	flags.BoolVar(&c.headless, "headless", true, "run the browser without a window")
	flags.StringVar(&c.executablePath, "executable-path", "", "`path` of the browser to launch")
	flags.StringVar(&c.wsURL, "ws-url", "", "connect to the browser at this DevTools `URL` instead of launching one")
	flags.BoolVar(&c.debug, "debug", false, "print debug logs")
	flags.StringVar(&c.logCategoryFilter, "log-category-filter", ".*", "only log the categories matching this `regexp`")
	flags.StringVar(&c.iconsDir, "icons-dir", "", "save the received page icons in this `directory`")
	flags.StringVar(&c.tracesEndpoint, "traces-endpoint", "", "export traces to this OTLP/HTTP `host:port`")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")

	return flags
}

// options returns the environment options overridden by the flags set.
func (c *rootCommand) options(flags *pflag.FlagSet) (*env.Options, error) {
	opts, err := env.Parse()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if flags.Changed("headless") {
		opts.Headless = null.BoolFrom(c.headless)
	}
	if flags.Changed("executable-path") {
		opts.ExecutablePath = c.executablePath
	}
	if flags.Changed("ws-url") {
		opts.WSURL = c.wsURL
	}
	if flags.Changed("debug") {
		opts.Debug = c.debug
	}
	if flags.Changed("log-category-filter") {
		opts.LogCategoryFilter = c.logCategoryFilter
	}
	if flags.Changed("icons-dir") {
		opts.IconsDir = c.iconsDir
	}
	if flags.Changed("traces-endpoint") {
		opts.TracesEndpoint = c.tracesEndpoint
	}

	return opts, opts.Validate() //nolint:wrapcheck
}

// content returns the content the view opens with.
func (c *rootCommand) content(args []string) (webview.Content, error) {
	switch {
	case c.html != "" && len(args) > 0:
		return nil, errors.New("either a URL or --html can be given, not both")
	case c.html != "":
		return webview.Data(c.html, c.baseURL), nil
	case len(args) > 0:
		return webview.URL(args[0]), nil
	default:
		return webview.URL("about:blank"), nil
	}
}

func (c *rootCommand) newLogger(opts *env.Options) (*logrus.Logger, *log.Logger, error) {
	l := logrus.New()
	l.SetOutput(c.stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: c.noColor})
	if opts.Debug {
		l.SetLevel(logrus.DebugLevel)
	}
	logger := log.New(l, opts.Debug, nil)
	if err := logger.SetCategoryFilter(opts.LogCategoryFilter); err != nil {
		return nil, nil, err //nolint:wrapcheck
	}

	return l, logger, nil
}

func (c *rootCommand) run(cmd *cobra.Command, args []string) (rerr error) {
	opts, err := c.options(cmd.Flags())
	if err != nil {
		return err
	}
	content, err := c.content(args)
	if err != nil {
		return err
	}
	l, logger, err := c.newLogger(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tp, err := otel.NewTraceProviderFromEnv(ctx, opts)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warnf("root:run", "shutting down tracing: %v", err)
		}
	}()
	tracer := trace.NewTracer(l, tp, map[string]string{"webview.client": "cli"})

	session, err := c.launch(osext.WithRunID(ctx, viewID), opts, logger)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("closing browser: %w", err)
		}
	}()

	out := newPrinter(c.stdout, c.noColor)
	if v, err := session.Version(ctx); err == nil {
		out.reply("connected to %s, type help for the commands", v)
	}

	loop := eventloop.New(ctx, logger)
	defer loop.Close()

	state := webview.NewState(content)
	nav := webview.NewNavigator(logger)
	nav.OnCommand(func(cmd webview.Command) {
		_, span := tracer.TraceCommand(ctx, viewID, cmd)
		span.End()
	})
	adapter := webview.NewAdapter(state, nav, loop, webview.Options{
		CaptureBackPresses: opts.CaptureBackPresses,
		DataURLPrefix:      opts.DataURLPrefix,
		Logger:             logger,
	})

	var wg sync.WaitGroup
	watch := func(fn func(changes <-chan webview.Change)) {
		changes := state.Subscribe(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(changes)
		}()
	}
	watch(out.watch)
	watch(func(changes <-chan webview.Change) { tracer.Watch(ctx, viewID, changes) })
	if opts.IconsDir != "" {
		icons := storage.NewIconRecorder(opts.IconsDir, &storage.LocalFilePersister{}, logger)
		watch(func(changes <-chan webview.Change) { icons.Record(ctx, changes) })
	}

	b := &binder{session: session, loop: loop, adapter: adapter, logger: logger}
	if err := b.bind(ctx); err != nil {
		adapter.Close()
		return err
	}

	r := &repl{
		state:   state,
		nav:     nav,
		adapter: adapter,
		rebind:  b.bind,
		baseURL: c.baseURL,
		out:     out,
	}
	err = r.run(ctx, c.stdin)

	adapter.Close()
	if cerr := b.close(); cerr != nil {
		logger.Debugf("root:run", "closing page: %v", cerr)
	}
	cancel()
	wg.Wait()

	return err
}
