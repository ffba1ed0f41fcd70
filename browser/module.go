// Package browser provides an entry point to the web view extension.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/grafana/xk6-webview/chromium"
	"github.com/grafana/xk6-webview/env"
	"github.com/grafana/xk6-webview/k6ext"
	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/osext"
	"github.com/grafana/xk6-webview/otel"
	"github.com/grafana/xk6-webview/storage"
	"github.com/grafana/xk6-webview/trace"
	"github.com/grafana/xk6-webview/webview"

	k6common "go.k6.io/k6/js/common"
	k6modules "go.k6.io/k6/js/modules"
)

const version = "0.1.0"

type (
	// RootModule is the global module instance that will create module
	// instances for each VU.
	RootModule struct {
		initOnce sync.Once
		opts     *env.Options
		initErr  error
		tp       otel.TraceProvider
	}

	// ModuleInstance represents an instance of the JS module.
	ModuleInstance struct {
		mod mapping
	}
)

// moduleVU carries module specific VU information.
type moduleVU struct {
	k6modules.VU

	opts     *env.Options
	logger   *log.Logger
	metrics  *k6ext.CustomMetrics
	tracer   *trace.Tracer
	sessions *sessionRegistry[*chromium.Session]
}

var (
	_ k6modules.Module   = &RootModule{}
	_ k6modules.Instance = &ModuleInstance{}
)

// New returns a pointer to a new RootModule instance.
func New() *RootModule {
	return &RootModule{}
}

// init reads the environment options and sets up tracing, once for every
// VU.
func (m *RootModule) init() {
	m.initOnce.Do(func() {
		if m.opts, m.initErr = env.Parse(); m.initErr != nil {
			return
		}
		m.tp, m.initErr = otel.NewTraceProviderFromEnv(context.Background(), m.opts)
	})
}

// NewModuleInstance implements the k6modules.Module interface to return
// a new instance for each VU.
func (m *RootModule) NewModuleInstance(vu k6modules.VU) k6modules.Instance {
	m.init()
	if m.initErr != nil {
		k6common.Throw(vu.Runtime(), m.initErr)
	}

	logger := log.New(logrusLogger(vu.InitEnv().Logger), m.opts.Debug, nil)
	if err := logger.SetCategoryFilter(m.opts.LogCategoryFilter); err != nil {
		k6common.Throw(vu.Runtime(), err)
	}

	mvu := moduleVU{
		VU:      vu,
		opts:    m.opts,
		logger:  logger,
		metrics: k6ext.RegisterCustomMetrics(vu.InitEnv().Registry),
		tracer:  trace.NewTracer(vu.InitEnv().Logger, m.tp, nil),
	}
	mvu.sessions = newSessionRegistry(func(ctx context.Context) (*chromium.Session, error) {
		return chromium.Launch(osext.WithRunID(ctx, mvu.runID()), chromium.NewLaunchOptions(m.opts), logger)
	})

	return &ModuleInstance{mod: mapModule(mvu)}
}

// Exports returns the exports of the JS module so that it can be used in test
// scripts.
func (mi *ModuleInstance) Exports() k6modules.Exports {
	return k6modules.Exports{Default: mi.mod}
}

// mapModule maps the module object to the JS module.
func mapModule(vu moduleVU) mapping {
	return mapping{
		"version": version,
		"open": func(url string, opts goja.Value) (mapping, error) {
			popts, err := parseViewOptions(vu.Runtime(), opts, vu.opts)
			if err != nil {
				return nil, err
			}
			v, err := vu.openView(url, "", false, popts)
			if err != nil {
				return nil, err
			}
			return mapView(vu, v), nil
		},
		"openHTML": func(html string, baseURL goja.Value, opts goja.Value) (mapping, error) {
			popts, err := parseViewOptions(vu.Runtime(), opts, vu.opts)
			if err != nil {
				return nil, err
			}
			v, err := vu.openView(html, exportString(baseURL), true, popts)
			if err != nil {
				return nil, err
			}
			return mapView(vu, v), nil
		},
	}
}

// runID identifies the VU iteration that launches a browser.
func (vu moduleVU) runID() string {
	st := vu.State()
	if st == nil {
		return ""
	}
	return fmt.Sprintf("vu%d-it%d", st.VUID, st.Iteration)
}

// openView opens a view on the browser of vu. The content is html with
// baseURL if isHTML is set, or url otherwise.
func (vu moduleVU) openView(content, baseURL string, isHTML bool, opts *viewOptions) (*view, error) {
	ctx := vu.Context()
	if ctx == nil {
		return nil, errNotInVUContext
	}
	s, err := vu.sessions.get(ctx)
	if err != nil {
		return nil, err
	}

	var h hooks
	if st := vu.State(); st != nil {
		tags := st.Tags.GetCurrentValues().Tags
		h.recorder = k6ext.NewRecorder(vu.metrics, tags, st.Samples)
	}
	h.tracer = vu.tracer
	if vu.opts.IconsDir != "" {
		h.icons = storage.NewIconRecorder(vu.opts.IconsDir, &storage.LocalFilePersister{}, vu.logger)
	}

	return newView(ctx, initialContent(content, baseURL, isHTML), opts, func(ctx context.Context, loop webview.Dispatcher) (closableRenderer, error) {
		return s.NewRenderer(ctx, loop)
	}, h, vu.logger)
}
