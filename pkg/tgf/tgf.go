// Package tgf implements the Tessera Graph Format container.
//
// TGF is a single-file, memory-mappable container for compiled model
// graphs. It describes structure and data only and never implies
// runtime behaviour; interpreting the graph is the engine's job, after
// validation.
package tgf

import "encoding/binary"

// TGF global constants must never change.
const (
	// Magic is the file magic for all TGF containers, encoded "TGF\0".
	Magic = "TGF\x00"

	// CurrentMajor changes only on breaking format changes. Readers
	// reject any other major version outright: no silent downgrade or
	// upgrade.
	CurrentMajor uint16 = 1

	// CurrentMinor may add optional sections or fields.
	CurrentMinor uint16 = 0
)

type SectionType uint32

const (
	SectionGraph    SectionType = 0x0001
	SectionConsts   SectionType = 0x0002
	SectionBindings SectionType = 0x0003
)

const (
	headerSize  = 40
	sectionSize = 24
	align       = 8
)

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != Magic {
		return false
	}
	if h.HeaderSize < headerSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func decodeHeader(b []byte) (Header, bool) {
	if len(b) < headerSize {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], b[0:4])
	h.Major = binary.LittleEndian.Uint16(b[4:6])
	h.Minor = binary.LittleEndian.Uint16(b[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(b[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(b[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(b[16:24])
	h.FileSize = binary.LittleEndian.Uint64(b[24:32])
	h.Flags = binary.LittleEndian.Uint64(b[32:40])
	return h, true
}

func encodeHeader(h *Header) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(b[4:6], h.Major)
	binary.LittleEndian.PutUint16(b[6:8], h.Minor)
	binary.LittleEndian.PutUint32(b[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(b[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(b[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(b[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(b[32:40], h.Flags)
	return b
}

func decodeSection(b []byte) (Section, bool) {
	if len(b) < sectionSize {
		return Section{}, false
	}
	var s Section
	s.Type = binary.LittleEndian.Uint32(b[0:4])
	s.Version = binary.LittleEndian.Uint32(b[4:8])
	s.Offset = binary.LittleEndian.Uint64(b[8:16])
	s.Size = binary.LittleEndian.Uint64(b[16:24])
	return s, true
}

func encodeSection(s *Section) []byte {
	b := make([]byte, sectionSize)
	binary.LittleEndian.PutUint32(b[0:4], s.Type)
	binary.LittleEndian.PutUint32(b[4:8], s.Version)
	binary.LittleEndian.PutUint64(b[8:16], s.Offset)
	binary.LittleEndian.PutUint64(b[16:24], s.Size)
	return b
}

// half-open ranges [a0,a1) and [b0,b1)
func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}
