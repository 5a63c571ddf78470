package history

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ExportOptions control Export.
type ExportOptions struct {
	// Compress writes a zstd stream instead of plain records.
	Compress bool
}

// Export writes every visible disk item, oldest first, in the history file format.
func (h *History) Export(w io.Writer, opts ExportOptions) (int, error) {
	items := h.Items()

	var sink io.Writer = w
	var enc *zstd.Encoder
	if opts.Compress {
		var err error
		enc, err = zstd.NewWriter(w)
		if err != nil {
			return 0, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		sink = enc
	}

	bw := bufio.NewWriterSize(sink, outputBufferSize)
	var buf bytes.Buffer
	for _, item := range items {
		buf.Reset()
		appendItem(&buf, item)
		if _, err := bw.Write(buf.Bytes()); err != nil {
			return 0, fmt.Errorf("failed to write export: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return 0, fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return len(items), nil
}

// ImportExport reads the output of Export, compressed or not, and merges it into the
// history with its original timestamps.
func (h *History) ImportExport(r io.Reader) (int, error) {
	items, err := readExport(r)
	if err != nil {
		return 0, err
	}
	imp := h.lock()
	n := imp.importItems(items)
	h.unlock()
	h.bumpGeneration()
	return n, nil
}

func readExport(r io.Reader) ([]Item, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	if len(data) > 0 && data[0] == '#' {
		return nil, ErrLegacyFormat
	}

	fc := &fileContents{data: data}
	var items []Item
	for _, offset := range fc.offsets(time.Time{}) {
		if item, ok := fc.decodeItem(offset); ok && !item.IsEmpty() {
			items = append(items, item)
		}
	}
	return items, nil
}
