package webview

import "gopkg.in/guregu/null.v3"

// Content is what the view should display: either a URL to navigate to or
// inline data. It is replaced as a whole, never mutated.
type Content interface {
	content()
}

// URLContent is content loaded from a URL.
type URLContent struct {
	URL string
}

// DataContent is inline content, optionally resolved against a base URL.
type DataContent struct {
	Data    string
	BaseURL null.String
}

func (URLContent) content()  {}
func (DataContent) content() {}

// URL returns content that navigates to url.
func URL(url string) Content {
	return URLContent{URL: url}
}

// Data returns inline content. An empty baseURL means no base URL.
func Data(data, baseURL string) Content {
	return DataContent{Data: data, BaseURL: null.NewString(baseURL, baseURL != "")}
}

// DataWithBaseURL returns inline content with an optional base URL.
func DataWithBaseURL(data string, baseURL null.String) Content {
	return DataContent{Data: data, BaseURL: baseURL}
}

// EffectiveURL returns the address content resolves to: the URL of
// URLContent or the base URL of DataContent. It is invalid when the
// content has no address.
func EffectiveURL(c Content) null.String {
	switch c := c.(type) {
	case URLContent:
		return null.StringFrom(c.URL)
	case DataContent:
		return c.BaseURL
	default:
		return null.String{}
	}
}
