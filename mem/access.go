// Package mem provides word/line access helpers and the backing-store
// model used by the memory subsystem.
package mem

import "fmt"

// WordSize is the access word size in bytes.
const WordSize = 4

// AccessKind identifies the width and extension behavior of a memory
// access, mirroring the RISC-V load/store variants.
type AccessKind int

const (
	// LoadByte loads one byte and sign-extends it (LB).
	LoadByte AccessKind = iota
	// LoadHalf loads two bytes and sign-extends them (LH).
	LoadHalf
	// LoadWord loads a full 32-bit word (LW).
	LoadWord
	// LoadByteU loads one byte and zero-extends it (LBU).
	LoadByteU
	// LoadHalfU loads two bytes and zero-extends them (LHU).
	LoadHalfU
	// StoreByte stores the low byte of the value (SB).
	StoreByte
	// StoreHalf stores the low halfword of the value (SH).
	StoreHalf
	// StoreWord stores the full word (SW).
	StoreWord
)

// String returns the RISC-V mnemonic for the access kind.
func (k AccessKind) String() string {
	switch k {
	case LoadByte:
		return "LB"
	case LoadHalf:
		return "LH"
	case LoadWord:
		return "LW"
	case LoadByteU:
		return "LBU"
	case LoadHalfU:
		return "LHU"
	case StoreByte:
		return "SB"
	case StoreHalf:
		return "SH"
	case StoreWord:
		return "SW"
	default:
		return fmt.Sprintf("AccessKind(%d)", int(k))
	}
}

// Width returns the access width in bytes.
func (k AccessKind) Width() int {
	switch k {
	case LoadByte, LoadByteU, StoreByte:
		return 1
	case LoadHalf, LoadHalfU, StoreHalf:
		return 2
	case LoadWord, StoreWord:
		return WordSize
	default:
		panic(fmt.Sprintf("mem: unknown access kind %d", int(k)))
	}
}

// IsLoad reports whether the kind is a load.
func (k AccessKind) IsLoad() bool {
	switch k {
	case LoadByte, LoadHalf, LoadWord, LoadByteU, LoadHalfU:
		return true
	default:
		return false
	}
}

// IsSigned reports whether a load of this kind sign-extends its result.
func (k AccessKind) IsSigned() bool {
	switch k {
	case LoadByte, LoadHalf:
		return true
	default:
		return false
	}
}

// WordAddr returns the word-aligned address containing addr.
func WordAddr(addr uint64) uint64 {
	return addr &^ (WordSize - 1)
}

// LineAddr returns the line-aligned address containing addr.
// lineSize must be a power of two.
func LineAddr(addr uint64, lineSize int) uint64 {
	return addr &^ (uint64(lineSize) - 1)
}

// WordOffset returns the index of the word containing addr within its line.
func WordOffset(addr uint64, lineSize int) int {
	return int(addr&(uint64(lineSize)-1)) / WordSize
}

// ByteMask returns the 4-bit byte-enable mask within a word for an access
// of the given kind at the given address. Accesses are assumed to be
// naturally aligned.
func ByteMask(kind AccessKind, addr uint64) uint8 {
	offset := addr & (WordSize - 1)
	return uint8((1<<kind.Width())-1) << offset
}

// LaneValue positions the low bytes of value into their byte lanes within
// a word, matching the byte-enable mask for the access.
func LaneValue(kind AccessKind, addr uint64, value uint32) uint32 {
	offset := addr & (WordSize - 1)
	switch kind.Width() {
	case 1:
		return (value & 0xFF) << (8 * offset)
	case 2:
		return (value & 0xFFFF) << (8 * offset)
	default:
		return value
	}
}

// MergeWord applies the enabled bytes of update onto old, leaving the
// masked-off bytes untouched.
func MergeWord(old, update uint32, byteEn uint8) uint32 {
	var result uint32
	for i := 0; i < WordSize; i++ {
		if byteEn&(1<<i) != 0 {
			result |= update & (0xFF << (8 * i))
		} else {
			result |= old & (0xFF << (8 * i))
		}
	}
	return result
}

// Extend extracts the addressed bytes of a load from the containing word
// and sign/zero-extends them according to the access kind.
func Extend(kind AccessKind, addr uint64, word uint32) uint32 {
	offset := addr & (WordSize - 1)
	switch kind {
	case LoadByte:
		b := (word >> (8 * offset)) & 0xFF
		if b&0x80 != 0 {
			return b | 0xFFFFFF00
		}
		return b
	case LoadByteU:
		return (word >> (8 * offset)) & 0xFF
	case LoadHalf:
		h := (word >> (8 * offset)) & 0xFFFF
		if h&0x8000 != 0 {
			return h | 0xFFFF0000
		}
		return h
	case LoadHalfU:
		return (word >> (8 * offset)) & 0xFFFF
	case LoadWord:
		return word
	default:
		panic(fmt.Sprintf("mem: Extend on store kind %v", kind))
	}
}

// ReadWord reads the little-endian word at byte offset within a line.
func ReadWord(line []byte, offset int) uint32 {
	return uint32(line[offset]) |
		uint32(line[offset+1])<<8 |
		uint32(line[offset+2])<<16 |
		uint32(line[offset+3])<<24
}

// WriteWord writes the little-endian word at byte offset within a line,
// honoring the byte-enable mask.
func WriteWord(line []byte, offset int, word uint32, byteEn uint8) {
	merged := MergeWord(ReadWord(line, offset), word, byteEn)
	for i := 0; i < WordSize; i++ {
		line[offset+i] = byte(merged >> (8 * i))
	}
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
