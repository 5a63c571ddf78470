package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrLegacyFormat is returned when a history file uses the old 1.x layout.
var ErrLegacyFormat = errors.New("unsupported history file format 1.x")

// A history file is a sequence of records:
//
//	- cmd: ls -la
//	  when: 1700000000
//	  paths:
//	    - /tmp
//
// Backslashes are written as \\ and newlines as \n.

const (
	cmdPrefix       = "- cmd"
	doubleCmdPrefix = "- cmd: - cmd: "
	cmdWhenPrefix   = "- cmd:    when:"
)

var yamlEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeYAML(s string) string {
	return yamlEscaper.Replace(s)
}

func unescapeYAML(s []byte) string {
	if bytes.IndexByte(s, '\\') < 0 {
		return string(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// appendItem serializes a disk item into buf.
func appendItem(buf *bytes.Buffer, item Item) {
	buf.WriteString("- cmd: ")
	buf.WriteString(escapeYAML(item.Contents))
	buf.WriteByte('\n')
	buf.WriteString("  when: ")
	buf.WriteString(strconv.FormatInt(secondsOf(item.Timestamp), 10))
	buf.WriteByte('\n')
	if len(item.RequiredPaths) == 0 {
		return
	}
	buf.WriteString("  paths:\n")
	for _, path := range item.RequiredPaths {
		buf.WriteString("    - ")
		buf.WriteString(escapeYAML(path))
		buf.WriteByte('\n')
	}
}

// fileContents is a read-only view of a history file, mapped when possible.
type fileContents struct {
	data    []byte
	release func() error
}

func emptyFileContents() *fileContents {
	return &fileContents{}
}

// loadFileContents reads f into memory. mmap is attempted only when useMmap is set and
// falls back to a plain read on failure.
func loadFileContents(f *os.File, useMmap bool) (*fileContents, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat history file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return emptyFileContents(), nil
	}

	fc := &fileContents{}
	if useMmap {
		data, release, err := mapFile(f, int(size))
		if err == nil {
			fc.data, fc.release = data, release
		} else {
			slog.Debug("mmap of history file failed, reading instead", "path", f.Name(), "err", err)
		}
	}
	if fc.data == nil {
		data := make([]byte, size)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, size), data); err != nil {
			return nil, fmt.Errorf("failed to read history file: %w", err)
		}
		fc.data = data
	}

	if fc.data[0] == '#' {
		fc.close()
		return nil, ErrLegacyFormat
	}
	return fc, nil
}

func (fc *fileContents) close() {
	if fc == nil {
		return
	}
	if fc.release != nil {
		if err := fc.release(); err != nil {
			slog.Debug("failed to unmap history file", "err", err)
		}
	}
	fc.data = nil
	fc.release = nil
}

// offsets returns the offset of every item whose timestamp is not after cutoff. A zero
// cutoff returns every item.
func (fc *fileContents) offsets(cutoff time.Time) []int {
	var result []int
	cursor := 0
	for {
		offset, ok := fc.offsetOfNextItem(&cursor, cutoff)
		if !ok {
			return result
		}
		result = append(result, offset)
	}
}

// offsetOfNextItem scans complete lines from *cursor for the start of the next record.
// Interior lines, YAML document markers and corrupt lines are skipped.
func (fc *fileContents) offsetOfNextItem(cursor *int, cutoff time.Time) (int, bool) {
	data := fc.data
	pos := *cursor
	for {
		line, next, ok := completeLine(data, pos)
		if !ok {
			return 0, false
		}
		start := pos
		pos = next

		if bytes.HasPrefix(line, []byte(" ")) ||
			bytes.HasPrefix(line, []byte("%")) ||
			bytes.HasPrefix(line, []byte("---")) ||
			bytes.HasPrefix(line, []byte("...")) {
			continue
		}

		// Old writers could stack several "- cmd: " prefixes on one line.
		for bytes.HasPrefix(line, []byte(doubleCmdPrefix)) {
			line = line[len("- cmd: "):]
			start += len("- cmd: ")
		}
		if bytes.HasPrefix(line, []byte(cmdWhenPrefix)) {
			continue
		}
		if !bytes.HasPrefix(line, []byte(cmdPrefix)) {
			slog.Debug("ignoring corrupted history entry", "offset", start)
			continue
		}

		if !cutoff.IsZero() {
			var (
				when  time.Time
				found bool
			)
			for {
				interior, after, ok := completeLine(data, pos)
				if !ok || !bytes.HasPrefix(interior, []byte(" ")) {
					break
				}
				pos = after
				if when, found = parseTimestampLine(interior); found {
					break
				}
			}
			if found && when.After(cutoff) {
				continue
			}
		}

		*cursor = pos
		return start, true
	}
}

// decodeItem decodes the record starting at offset.
func (fc *fileContents) decodeItem(offset int) (Item, bool) {
	if offset < 0 || offset >= len(fc.data) {
		return Item{}, false
	}
	return decodeRecord(fc.data[offset:])
}

func decodeRecord(data []byte) (Item, bool) {
	advance, line := readLine(data)
	line = trimStart(line)
	if !bytes.HasPrefix(line, []byte(cmdPrefix)) {
		return Item{}, false
	}
	_, cmd, ok := extractKeyValue(line)
	if !ok {
		return Item{}, false
	}
	data = data[advance:]

	item := Item{Contents: cmd, Timestamp: time.Unix(0, 0), Mode: PersistDisk}
	indent := -1
	for {
		advance, line := readLine(data)
		thisIndent, rest := trimLeadingSpaces(line)
		if indent < 0 {
			indent = thisIndent
		}
		if thisIndent == 0 || thisIndent != indent {
			break
		}
		key, value, ok := extractKeyValue(rest)
		if !ok {
			break
		}
		data = data[advance:]

		switch key {
		case "when":
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				secs = 0
			}
			item.Timestamp = time.Unix(secs, 0)
		case "paths":
			for {
				advance, line := readLine(data)
				spaces, rest := trimLeadingSpaces(line)
				if spaces <= indent {
					break
				}
				path, ok := bytes.CutPrefix(rest, []byte("- "))
				if !ok {
					break
				}
				data = data[advance:]
				item.RequiredPaths = append(item.RequiredPaths, unescapeYAML(path))
			}
		}
	}
	return item, true
}

// completeLine returns the newline-terminated line starting at pos, without the newline,
// and the offset just past it.
func completeLine(data []byte, pos int) ([]byte, int, bool) {
	if pos >= len(data) {
		return nil, pos, false
	}
	idx := bytes.IndexByte(data[pos:], '\n')
	if idx < 0 {
		return nil, pos, false
	}
	return data[pos : pos+idx], pos + idx + 1, true
}

// readLine returns the bytes to advance and the line without its newline. An
// unterminated tail reads as an empty line.
func readLine(data []byte) (int, []byte) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return len(data), nil
	}
	return idx + 1, data[:idx]
}

func trimStart(s []byte) []byte {
	return bytes.TrimLeft(s, " \t\n\v\f\r")
}

func trimLeadingSpaces(s []byte) (int, []byte) {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n, s[n:]
}

func extractKeyValue(line []byte) (string, string, bool) {
	key, value, ok := bytes.Cut(line, []byte(":"))
	if !ok {
		return "", "", false
	}
	return unescapeYAML(key), unescapeYAML(trimStart(value)), true
}

func parseTimestampLine(line []byte) (time.Time, bool) {
	rest, ok := bytes.CutPrefix(trimStart(line), []byte("when:"))
	if !ok {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(string(trimStart(rest)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
