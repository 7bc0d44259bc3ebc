package tgf

import (
	"errors"
	"os"
)

// Writer builds a TGF container in memory. Space for the header is
// reserved up-front and patched in Finalize; the section directory is
// appended after the last section payload.
type Writer struct {
	buf      []byte
	sections []Section
	seen     map[SectionType]struct{}
	flags    uint64
	done     bool
}

func NewWriter() *Writer {
	w := &Writer{
		buf:  make([]byte, headerSize),
		seen: make(map[SectionType]struct{}),
	}
	w.pad()
	return w
}

func (w *Writer) pad() {
	for len(w.buf)%align != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) AddFlags(flags uint64) {
	w.flags |= flags
}

// WriteSection appends a section payload and records it in the section
// table. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	if w.done {
		return errors.New("tgf: writer already finalized")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("tgf: duplicate section type")
	}
	w.pad()
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, data...)
	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  offset,
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

// Finalize appends the section directory, patches the header, and
// returns the finished container bytes. The writer cannot be reused.
func (w *Writer) Finalize() ([]byte, error) {
	if w.done {
		return nil, errors.New("tgf: writer already finalized")
	}
	if len(w.sections) == 0 {
		return nil, errors.New("tgf: no sections written")
	}
	w.pad()
	dirOffset := uint64(len(w.buf))
	for i := range w.sections {
		w.buf = append(w.buf, encodeSection(&w.sections[i])...)
	}

	hdr := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       headerSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: dirOffset,
		FileSize:         uint64(len(w.buf)),
		Flags:            w.flags,
	}
	copy(hdr.Magic[:], Magic)
	copy(w.buf[:headerSize], encodeHeader(&hdr))
	w.done = true
	return w.buf, nil
}

// WriteFile finalizes the container and writes it to path.
func (w *Writer) WriteFile(path string) error {
	data, err := w.Finalize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
