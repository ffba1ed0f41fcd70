package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/grafana/xk6-webview/log"
	"github.com/grafana/xk6-webview/webview"
)

// IconRecorder persists the page icons a view receives.
type IconRecorder struct {
	dir       string
	persister FilePersister
	logger    *log.Logger

	mu    sync.Mutex
	last  []byte
	seq   int
	paths []string
}

// NewIconRecorder returns a recorder writing icons below dir.
func NewIconRecorder(dir string, persister FilePersister, logger *log.Logger) *IconRecorder {
	if persister == nil {
		persister = &LocalFilePersister{}
	}
	if logger == nil {
		logger = log.NewNullLogger()
	}

	return &IconRecorder{
		dir:       dir,
		persister: persister,
		logger:    logger,
	}
}

// Record persists every new page icon of changes until the channel is
// closed or ctx is done. An icon equal to the last one persisted is
// skipped. Persisting errors are logged and do not stop the recording.
func (r *IconRecorder) Record(ctx context.Context, changes <-chan webview.Change) {
	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Field != webview.FieldPageIcon || len(c.Snapshot.PageIcon) == 0 {
				continue
			}
			if err := r.save(ctx, c.Snapshot); err != nil {
				r.logger.Errorf("IconRecorder:Record", "%v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Paths returns the paths of the icons persisted so far.
func (r *IconRecorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.paths...)
}

func (r *IconRecorder) save(ctx context.Context, snap webview.Snapshot) error {
	r.mu.Lock()
	if bytes.Equal(r.last, snap.PageIcon) {
		r.mu.Unlock()
		return nil
	}
	r.last = snap.PageIcon
	r.seq++
	name := iconFileName(r.seq, webview.EffectiveURL(snap.Content).String, snap.PageIcon)
	r.mu.Unlock()

	path := filepath.Join(r.dir, name)
	if err := r.persister.Persist(ctx, path, bytes.NewReader(snap.PageIcon)); err != nil {
		return fmt.Errorf("persisting icon: %w", err)
	}
	r.logger.Debugf("IconRecorder:save", "persisted icon path:%q len:%d", path, len(snap.PageIcon))

	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()

	return nil
}

// iconFileName names the seqth icon after the host of the page it belongs
// to and its sniffed content type.
func iconFileName(seq int, pageURL string, icon []byte) string {
	host := "page"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, host)

	return fmt.Sprintf("%03d-%s%s", seq, host, iconExt(icon))
}

func iconExt(icon []byte) string {
	head := icon
	if len(head) > 512 {
		head = head[:512]
	}
	switch ct := http.DetectContentType(icon); {
	case ct == "image/png":
		return ".png"
	case ct == "image/gif":
		return ".gif"
	case ct == "image/jpeg":
		return ".jpg"
	case ct == "image/webp":
		return ".webp"
	case ct == "image/x-icon", ct == "image/vnd.microsoft.icon":
		return ".ico"
	case strings.HasPrefix(ct, "text/xml"), bytes.Contains(head, []byte("<svg")):
		return ".svg"
	default:
		return ".bin"
	}
}
