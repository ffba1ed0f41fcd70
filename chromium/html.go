package chromium

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"gopkg.in/guregu/null.v3"
)

// document is what a loaded page advertises in its markup.
type document struct {
	title   null.String
	iconURL string
}

// parseDocument reads the title and the icon address of the markup of the
// document at documentURL. The icon address is absolute, or empty when the
// page has no icon link.
func parseDocument(documentURL, markup string) (document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return document{}, errors.Wrap(err, "parsing document")
	}

	var d document
	if t := doc.Find("title").First(); t.Length() > 0 {
		// Browsers strip and collapse the title whitespace.
		d.title = null.StringFrom(strings.Join(strings.Fields(t.Text()), " "))
	}

	base := documentURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u := resolveURL(documentURL, href); u != "" {
			base = u
		}
	}
	doc.Find("link[rel][href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !isIconRel(s.AttrOr("rel", "")) {
			return true
		}
		d.iconURL = resolveURL(base, strings.TrimSpace(s.AttrOr("href", "")))
		return d.iconURL == ""
	})

	return d, nil
}

func isIconRel(rel string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == "icon" {
			return true
		}
	}
	return false
}

// resolveURL returns href resolved against base, or an empty string when
// it can not be resolved.
func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() || b.Opaque != "" || b.Scheme == "data" {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// baseElement returns a base element pointing the relative addresses of a
// document to baseURL.
func baseElement(baseURL string) string {
	return `<base href="` + html.EscapeString(baseURL) + `">`
}

// dataURL returns a data URL of data with the given media type and charset.
func dataURL(data, mimeType, encoding string) string {
	return "data:" + mimeType + ";charset=" + encoding + ";base64," +
		base64.StdEncoding.EncodeToString([]byte(data))
}

// decodeDataURL returns the payload of a data URL.
func decodeDataURL(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, errors.Errorf("not a data URL: %.32q", s)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.Errorf("data URL without payload: %.32q", s)
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		return b, errors.Wrap(err, "decoding base64 data URL")
	}
	p, err := url.PathUnescape(payload)
	if err != nil {
		return nil, errors.Wrap(err, "unescaping data URL")
	}
	return []byte(p), nil
}
