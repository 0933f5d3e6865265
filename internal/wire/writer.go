package wire

import "strings"

// Version tags understood by the collector.
const (
	Version6 = "bel.6"
	Version7 = "bel.7"
)

// Blob is an already-encoded payload body. Harvest treats Blob values as
// opaque and does not rewrite them.
type Blob string

// Writer accumulates the records of one bel payload.
type Writer struct {
	tag   string
	parts []string
	size  int
}

// NewWriter starts a payload with the given version tag.
func NewWriter(tag string) *Writer {
	return &Writer{tag: tag, size: len(tag) + 1}
}

// Record appends one record made of the given fields.
func (w *Writer) Record(fields ...string) {
	w.Append(strings.Join(fields, ","))
}

// Append appends a pre-joined record part.
func (w *Writer) Append(part string) {
	if len(w.parts) > 0 {
		w.size++
	}
	w.parts = append(w.parts, part)
	w.size += len(part)
}

// Len returns the encoded size in bytes.
func (w *Writer) Len() int {
	return w.size
}

// Count returns the number of parts written.
func (w *Writer) Count() int {
	return len(w.parts)
}

func (w *Writer) String() string {
	return w.tag + ";" + strings.Join(w.parts, ";")
}

// Blob returns the payload as a Blob.
func (w *Writer) Blob() Blob {
	return Blob(w.String())
}
