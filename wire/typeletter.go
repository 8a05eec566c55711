package wire

import "github.com/distclass-go/dorpc/dcerr"

// Qualifier annotates how an object-typed argument or return value should be
// shipped across the wire: by value (the whole graph, recursively encoded)
// or by reference (a proxy reference number).
type Qualifier byte

const (
	// QualifierNone carries no by-copy/by-reference annotation.
	QualifierNone Qualifier = 0
	// QualifierByCopy ('O' in the source type-encoding alphabet) ships the
	// whole referenced object graph inline.
	QualifierByCopy Qualifier = 'O'
	// QualifierByRef ('R') ships a reference placeholder only.
	QualifierByRef Qualifier = 'R'
	// QualifierConst ('r') is a const annotation; it does not affect wire shape.
	QualifierConst Qualifier = 'r'
)

// TypeEntry describes one letter of the canonical type-encoding alphabet:
// its fixed wire width (0 meaning variable-length, length-prefixed) and
// whether it denotes an object reference.
type TypeEntry struct {
	Letter   byte
	Width    int // fixed width in bytes, 0 if variable-length
	IsObject bool
}

// TypeTable is the canonical, platform-neutral letter-to-wire-width table.
// This is the target-language's own table (spec §9 "Endianness & type-letter
// portability"); it does not attempt to match the source alphabet's exact
// bit widths, only to reject what it does not recognise.
var TypeTable = map[byte]TypeEntry{
	'c': {'c', 1, false}, // int8
	'C': {'C', 1, false}, // uint8
	's': {'s', 2, false}, // int16
	'S': {'S', 2, false}, // uint16
	'i': {'i', 4, false}, // int32
	'I': {'I', 4, false}, // uint32
	'l': {'l', 4, false}, // int32 (legacy "long")
	'L': {'L', 4, false}, // uint32
	'q': {'q', 8, false}, // int64
	'Q': {'Q', 8, false}, // uint64
	'f': {'f', 4, false}, // float32
	'd': {'d', 8, false}, // float64
	'B': {'B', 1, false}, // bool
	'*': {'*', 0, false}, // C string, length-prefixed
	'@': {'@', 0, true},  // object (by-copy or by-ref, see Qualifier)
	'#': {'#', 0, true},  // class (a vended ClassDescriptor, always by-ref)
	':': {':', 0, false}, // selector, length-prefixed string
	'^': {'^', 0, false}, // opaque pointer-sized blob, length-prefixed
	'b': {'b', 0, false}, // raw data blob, length-prefixed
}

// Lookup returns the TypeEntry for a type letter.
func Lookup(encoded byte) (TypeEntry, error) {
	entry, ok := TypeTable[encoded]
	if !ok {
		return TypeEntry{}, dcerr.New(dcerr.KindEncodingMismatch, "unrecognised type letter %q", encoded)
	}
	return entry, nil
}

// SplitQualifier splits a type-signature element such as "O@" into its
// qualifier and base letter. An element with no qualifier prefix returns
// QualifierNone and the element unchanged.
func SplitQualifier(elem string) (Qualifier, byte) {
	if len(elem) == 2 {
		switch elem[0] {
		case byte(QualifierByCopy), byte(QualifierByRef), byte(QualifierConst):
			return Qualifier(elem[0]), elem[1]
		}
	}
	if len(elem) == 1 {
		return QualifierNone, elem[0]
	}
	return QualifierNone, 0
}
