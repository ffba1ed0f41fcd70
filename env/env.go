// Package env reads the configuration of the extension from environment
// variables.
package env

import "os"

// LookupFunc retrieves the value of the environment variable named by the
// key, reporting whether it is set. It behaves like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Lookup is the LookupFunc of the process environment.
func Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// EmptyLookup is a LookupFunc that never finds a variable.
func EmptyLookup(string) (string, bool) { return "", false }

// ConstLookup returns a LookupFunc that finds only the given variable.
func ConstLookup(k, v string) LookupFunc {
	return func(key string) (string, bool) {
		if key == k {
			return v, true
		}
		return "", false
	}
}
