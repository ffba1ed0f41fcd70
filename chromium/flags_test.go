package chromium

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/xk6-webview/env"
)

func TestPrepareFlags(t *testing.T) {
	t.Parallel()

	t.Run("headless", func(t *testing.T) {
		t.Parallel()

		f := prepareFlags(DefaultLaunchOptions())
		assert.Equal(t, true, f["headless"])
		assert.Equal(t, true, f["hide-scrollbars"])
		assert.Equal(t, true, f["mute-audio"])
		assert.Equal(t, "800,600", f["window-size"])
	})
	t.Run("headful", func(t *testing.T) {
		t.Parallel()

		opts := DefaultLaunchOptions()
		opts.Headless = false
		opts.Width, opts.Height = 1280, 720

		f := prepareFlags(opts)
		assert.Equal(t, false, f["headless"])
		assert.NotContains(t, f, "hide-scrollbars")
		assert.Equal(t, "1280,720", f["window-size"])
	})
	t.Run("args", func(t *testing.T) {
		t.Parallel()

		opts := DefaultLaunchOptions()
		opts.Args = []string{
			"--no-sandbox",
			"user-data-dir=/tmp/profile",
			` lang = "en-US" `,
			"window-size='1024,768'",
			"",
			"=ignored",
		}

		f := prepareFlags(opts)
		assert.Equal(t, "", f["no-sandbox"])
		assert.Equal(t, "/tmp/profile", f["user-data-dir"])
		assert.Equal(t, "en-US", f["lang"])
		assert.Equal(t, "1024,768", f["window-size"])
		assert.NotContains(t, f, "")
	})
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		args, err := parseArgs(map[string]any{
			"headless":      true,
			"mute-audio":    false,
			"no-sandbox":    "",
			"window-size":   "800,600",
			"user-data-dir": "/tmp/profile",
		})
		require.NoError(t, err)
		sort.Strings(args)
		assert.Equal(t, []string{
			"--headless",
			"--no-sandbox",
			"--remote-debugging-port=0",
			"--user-data-dir=/tmp/profile",
			"--window-size=800,600",
		}, args)
	})
	t.Run("port", func(t *testing.T) {
		t.Parallel()

		args, err := parseArgs(map[string]any{"remote-debugging-port": "9222"})
		require.NoError(t, err)
		assert.Equal(t, []string{"--remote-debugging-port=9222"}, args)
	})
	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := parseArgs(map[string]any{"window-size": 800})
		assert.EqualError(t, err, `invalid browser command line flag: "window-size=800"`)
	})
}

func TestExecutablePath(t *testing.T) {
	t.Parallel()

	const userProvidedPath = "/path/to/browser"

	lookPath := func(found ...string) func(string) (string, error) {
		return func(file string) (string, error) {
			for _, f := range found {
				if f == file {
					return file, nil
				}
			}
			return "", fmt.Errorf("%q not found", file)
		}
	}
	userProfile := filepath.Join("C:", "Users", "k6")
	profileChrome := filepath.Join(userProfile, `AppData\Local\Google\Chrome\Application\chrome.exe`)

	tests := map[string]struct {
		path     string
		env      env.LookupFunc
		lookPath func(string) (string, error)
		want     string
		wantErr  error
	}{
		"user_provided": {
			path:     userProvidedPath,
			env:      env.EmptyLookup,
			lookPath: lookPath(userProvidedPath),
			want:     userProvidedPath,
		},
		"user_provided_missing": {
			path:     userProvidedPath,
			env:      env.EmptyLookup,
			lookPath: lookPath("google-chrome"),
			wantErr:  ErrChromeNotFoundAtPath,
		},
		"default": {
			env:      env.EmptyLookup,
			lookPath: lookPath("google-chrome", "chromium"),
			want:     "chromium",
		},
		"user_profile": {
			env:      env.ConstLookup("USERPROFILE", userProfile),
			lookPath: lookPath(profileChrome),
			want:     profileChrome,
		},
		"not_installed": {
			env:      env.EmptyLookup,
			lookPath: lookPath(),
			wantErr:  ErrChromeNotInstalled,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := executablePath(tt.path, tt.env, tt.lookPath)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLaunchOptions(t *testing.T) {
	t.Parallel()

	o := &env.Options{
		ExecutablePath:      "/usr/bin/chromium",
		Args:                []string{"no-sandbox"},
		Timeout:             DefaultLaunchOptions().Timeout / 2,
		WSURL:               "ws://127.0.0.1:9222/devtools/browser/x",
		InterceptNavigation: false,
	}
	opts := NewLaunchOptions(o)
	assert.Equal(t, "/usr/bin/chromium", opts.ExecutablePath)
	assert.True(t, opts.Headless, "headless unless set")
	assert.Equal(t, []string{"no-sandbox"}, opts.Args)
	assert.Equal(t, o.Timeout, opts.timeout())
	assert.Equal(t, o.WSURL, opts.WSURL)
	assert.False(t, opts.InterceptNavigation)

	opts.Timeout = 0
	assert.Equal(t, DefaultLaunchOptions().Timeout, opts.timeout())

	opts.Env = env.ConstLookup("TMPDIR", "/var/tmp")
	assert.Equal(t, "/var/tmp", opts.tmpdir())
}
