package browser

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// mapping is a type of mapping between our API (api/) and the JS
// module. It acts like a bridge and allows adding wildcard methods
// and customization over our API.
type mapping = map[string]any

var errNotInVUContext = errors.New("views can only be opened in the VU context")

// exportArg exports the value and returns it.
// It returns nil if the value is undefined or null.
func exportArg(gv goja.Value) any {
	if !gojaValueExists(gv) {
		return nil
	}
	return gv.Export()
}

// exportString returns the string value of gv, or an empty string if it
// is undefined or null.
func exportString(gv goja.Value) string {
	if !gojaValueExists(gv) {
		return ""
	}
	return gv.String()
}

// gojaValueExists returns true if a given value is not nil and exists
// (defined and not null) in the goja runtime.
func gojaValueExists(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// logrusLogger returns the logrus logger behind the field logger of k6, or
// nil if there is none.
func logrusLogger(fl logrus.FieldLogger) *logrus.Logger {
	switch l := fl.(type) {
	case *logrus.Logger:
		return l
	case *logrus.Entry:
		return l.Logger
	default:
		return nil
	}
}
