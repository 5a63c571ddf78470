package history

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tchaudhry91/shellhist/internal/shell"
)

const (
	// DefaultSession is the session name used when none is configured.
	DefaultSession = "default"

	// SessionEnv names the variable holding the session name. Set but empty means private mode.
	SessionEnv = "SHELLHIST_SESSION"
	// PrivateModeEnv is set while private mode is active.
	PrivateModeEnv = "SHELLHIST_PRIVATE_MODE"
	// DataDirEnv overrides the data directory.
	DataDirEnv = "SHELLHIST_DATA_DIR"

	appDirName    = "shellhist"
	historySuffix = "_history"
)

// ErrNoDataDir is returned when no directory for the history file can be determined.
var ErrNoDataDir = errors.New("cannot determine history data directory")

// DefaultDataDir resolves and creates the directory holding history files.
func DefaultDataDir() (string, error) {
	dir := os.Getenv(DataDirEnv)
	if dir == "" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dir = filepath.Join(xdg, appDirName)
		} else if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share", appDirName)
		} else {
			return "", ErrNoDataDir
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDataDir, err)
	}
	return dir, nil
}

// DefaultConfigDir resolves the directory where older releases kept history files.
func DefaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ErrNoDataDir
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// historyFilename returns the path of session's history file in dir, or "" for the
// private session.
func historyFilename(dir, session, suffix string) string {
	if session == "" {
		return ""
	}
	return filepath.Join(dir, session+historySuffix+suffix)
}

// canonicalPath resolves symlinks so that different spellings of the same file compare
// equal. A file that does not exist yet resolves through its directory.
func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(dir, filepath.Base(path))
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// SessionID returns the session name configured in vars. Unset yields DefaultSession and
// an empty value yields "" (private mode). Invalid names fall back to DefaultSession.
func SessionID(vars shell.Vars) string {
	name, ok := vars.Get(SessionEnv)
	if !ok {
		return DefaultSession
	}
	if name == "" {
		return ""
	}
	if !shell.ValidVarName(name) {
		slog.Warn("history session name is invalid, using default", "session", name, "default", DefaultSession)
		return DefaultSession
	}
	return name
}

// StartPrivateMode switches vars to the private session.
func StartPrivateMode(vars shell.Vars) {
	vars.Set(SessionEnv, "")
	vars.Set(PrivateModeEnv, "1")
}

// InPrivateMode reports whether vars are in private mode.
func InPrivateMode(vars shell.Vars) bool {
	value, ok := vars.Get(PrivateModeEnv)
	return ok && value != ""
}
