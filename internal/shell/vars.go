// Package shell holds the pieces of the interactive shell that the history engine leans on
// without owning: a snapshot of the variable store, a command-line analyzer that finds
// path-like arguments, and a word expander.
package shell

import (
	"os"
	"sort"
	"strings"
)

// Vars is an immutable-by-convention snapshot of shell variables.
type Vars map[string]string

// FromEnviron builds Vars from KEY=VALUE pairs. pwd, when non-empty, overrides PWD.
func FromEnviron(environ []string, pwd string) Vars {
	v := make(Vars, len(environ)+1)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		v[key] = value
	}
	if pwd != "" {
		v["PWD"] = pwd
	}
	return v
}

// Current snapshots the process environment and working directory.
func Current() Vars {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = ""
	}
	return FromEnviron(os.Environ(), pwd)
}

// Get returns the value of name and whether it is set.
func (v Vars) Get(name string) (string, bool) {
	value, ok := v[name]
	return value, ok
}

// Set assigns name in place.
func (v Vars) Set(name, value string) {
	v[name] = value
}

// Clone returns an independent copy, safe to hand to another goroutine.
func (v Vars) Clone() Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// PWDSlash returns the working directory with a trailing slash, or "" if PWD is unset.
func (v Vars) PWDSlash() string {
	pwd := v["PWD"]
	if pwd == "" {
		return ""
	}
	if !strings.HasSuffix(pwd, "/") {
		pwd += "/"
	}
	return pwd
}

// Environ returns KEY=VALUE pairs in a stable order.
func (v Vars) Environ() []string {
	out := make([]string, 0, len(v))
	for k, val := range v {
		out = append(out, k+"="+val)
	}
	sort.Strings(out)
	return out
}

// ValidVarName reports whether name is non-empty and made only of ASCII letters, digits
// and underscores.
func ValidVarName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			return false
		}
	}
	return true
}
