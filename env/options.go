package env

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"
)

// Prefix of every environment variable read into Options.
const Prefix = "K6_WEBVIEW"

// ErrInvalidTimeout is returned by Validate for a non-positive timeout.
var ErrInvalidTimeout = errors.New("timeout must be positive")

// Options is the configuration read from K6_WEBVIEW_* variables.
type Options struct {
	// ExecutablePath of the browser. Well known locations are searched
	// when empty.
	ExecutablePath string `envconfig:"EXECUTABLE_PATH"`
	// Headless is true unless set to false.
	Headless null.Bool `envconfig:"HEADLESS" default:"true"`
	// Args are extra browser flags, such as "lang=en" or "no-sandbox".
	Args []string `envconfig:"ARGS"`

	Debug             bool          `envconfig:"DEBUG"`
	LogCategoryFilter string        `envconfig:"LOG_CATEGORY_FILTER" default:".*"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"30s"`

	// WSURL of a running browser to connect to instead of launching one.
	WSURL string `envconfig:"WS_URL"`

	CaptureBackPresses  bool   `envconfig:"CAPTURE_BACK_PRESSES" default:"true"`
	InterceptNavigation bool   `envconfig:"INTERCEPT_NAVIGATION" default:"true"`
	DataURLPrefix       string `envconfig:"DATA_URL_PREFIX" default:"data:text/html"`

	// IconsDir is where received page icons are saved. Icons are not
	// saved when empty.
	IconsDir string `envconfig:"ICONS_DIR"`

	TracesEndpoint string `envconfig:"TRACES_ENDPOINT"`
	TracesInsecure bool   `envconfig:"TRACES_INSECURE"`
}

// Parse reads and validates Options from the process environment.
func Parse() (*Options, error) {
	var opts Options
	if err := envconfig.Process(Prefix, &opts); err != nil {
		return nil, fmt.Errorf("parsing %s environment variables: %w", Prefix, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &opts, nil
}

// IsHeadless reports whether the browser runs without a window.
func (o *Options) IsHeadless() bool {
	return !o.Headless.Valid || o.Headless.Bool
}

// Validate checks the options that can not be checked while parsing.
func (o *Options) Validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, o.Timeout)
	}
	if _, err := regexp.Compile(o.LogCategoryFilter); err != nil {
		return fmt.Errorf("invalid log category filter %q: %w", o.LogCategoryFilter, err)
	}

	return nil
}
