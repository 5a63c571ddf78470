package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tchaudhry91/shellhist/internal/shell"
)

// AddPendingWithFileDetection adds s as a pending item and, in the background, records
// which of its arguments name existing files. Saving is held off until detection ends so
// the item reaches disk with its paths. Commands that may end the process are saved
// right away without detection.
func (h *History) AddPendingWithFileDetection(s string, vars shell.Vars, mode PersistMode) {
	if s == "" {
		return
	}

	analysis := shell.Analyze(s)
	wantsDetection := len(analysis.PotentialPaths) > 0 && !analysis.NeedsSyncWrite
	toDisk := mode == PersistDisk

	imp := h.lock()
	if mode != PersistEphemeral {
		imp.removeEphemeralItems()
	}
	item := NewItem(s, imp.timestampNow(), mode)

	if !wantsDetection {
		imp.add(item, true, toDisk)
		if toDisk && analysis.NeedsSyncWrite {
			imp.save(false)
		}
		h.unlock()
		h.bumpGeneration()
		return
	}

	imp.disableAutomaticSaving()
	imp.add(item, true, toDisk)
	h.unlock()
	h.bumpGeneration()

	snapshot := vars.Clone()
	candidates := analysis.PotentialPaths
	id := item.ID
	h.pool.Submit(func() {
		valid := expandAndDetectPaths(candidates, snapshot)

		imp := h.lock()
		defer h.unlock()
		if len(valid) > 0 {
			imp.setValidFilePaths(valid, id)
		}
		imp.enableAutomaticSaving()
		if toDisk {
			imp.saveUnlessDisabled()
		}
	})
}

// expandAndDetectPaths returns the candidates, unexpanded, whose expansion names an
// existing file.
func expandAndDetectPaths(candidates []string, vars shell.Vars) []string {
	wd := vars.PWDSlash()
	var valid []string
	for _, candidate := range candidates {
		if expanded, ok := expandCandidate(candidate, vars); ok && pathIsValid(expanded, wd) {
			valid = append(valid, candidate)
		}
	}
	return valid
}

// AllPathsAreValid reports whether every path expands to an existing file. It gives up,
// returning false, when ctx is cancelled.
func AllPathsAreValid(ctx context.Context, paths []string, vars shell.Vars) bool {
	wd := vars.PWDSlash()
	for _, path := range paths {
		if ctx.Err() != nil {
			return false
		}
		expanded, ok := expandCandidate(path, vars)
		if !ok || !pathIsValid(expanded, wd) {
			return false
		}
	}
	return true
}

// expandCandidate expands variables and tildes without running command substitutions.
// Wildcards are not expanded: a pattern counts as valid whether or not it matches.
func expandCandidate(candidate string, vars shell.Vars) (string, bool) {
	if shell.ContainsWildcard(candidate) {
		return "", true
	}
	expanded, err := shell.ExpandPath(candidate, vars)
	if err != nil {
		return "", false
	}
	return expanded, true
}

func pathIsValid(path, wd string) bool {
	if path == "" {
		// Only wildcards expand to nothing here.
		return true
	}
	if !filepath.IsAbs(path) {
		if wd == "" {
			return false
		}
		path = filepath.Join(strings.TrimSuffix(wd, "/"), path)
	}
	_, err := os.Stat(path)
	return err == nil
}
