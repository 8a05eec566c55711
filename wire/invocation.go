package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/distclass-go/dorpc/dcerr"
)

// OwnerSide distinguishes whose local reference table assigned an object
// reference number: the side now sending the frame, or the side that
// receives it (i.e. the reference was originally assigned by the peer and
// is now being echoed back unchanged, per spec invariant).
type OwnerSide byte

const (
	// OwnerSender means the reference number was assigned by the local
	// table of whichever side is currently sending this frame.
	OwnerSender OwnerSide = 0
	// OwnerReceiver means the reference number was originally assigned by
	// the table of whichever side will receive this frame.
	OwnerReceiver OwnerSide = 1
)

// ObjRef is a by-reference placeholder for a proxied object.
type ObjRef struct {
	RefNum    uint32
	OwnerSide OwnerSide
}

// ByCopyPayload is a recursively-encoded object graph shipped inline. The
// type name is used on decode to find a registered factory (see Register).
type ByCopyPayload struct {
	TypeName string
	Data     []byte
}

// Arg is one encoded invocation argument or return value. Exactly one of
// the value fields is meaningful, selected by Letter (and, for '@'/'#',
// by which of ObjRef/ByCopy is set).
type Arg struct {
	Letter    byte
	Qualifier Qualifier
	Prim      interface{} // int8/uint8/int16/uint16/int32/uint32/int64/uint64/float32/float64/bool
	Str       string      // letters '*' and ':'
	Blob      []byte      // letters 'b' and '^'
	ObjRef    *ObjRef     // letters '@'/'#' when by-reference or nil object
	ByCopy    *ByCopyPayload
}

// Invocation is the (target, selector, args) tuple marshalled for a request,
// per spec §3. Target is nil only for the well-known bootstrap request to a
// connection's root/vendor object (refnum 0).
type Invocation struct {
	Target   *ObjRef
	Selector string
	TypeSig  string // "retElem:argElem:argElem...", see ParseTypeSig
	Args     []Arg
}

// ParseTypeSig splits a TypeSig into its return element and argument
// elements. Each element is an optional qualifier byte ('O'/'R'/'r')
// followed by exactly one type letter.
func ParseTypeSig(sig string) (ret string, args []string) {
	parts := strings.Split(sig, ":")
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// BuildTypeSig is the inverse of ParseTypeSig.
func BuildTypeSig(ret string, args []string) string {
	return strings.Join(append([]string{ret}, args...), ":")
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated length prefix")
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated length-prefixed payload")
		}
	}
	return b, nil
}

// object wire tags, distinct from ComponentKind: these select among null /
// by-reference / by-copy within a single '@' or '#' argument slot.
const (
	objTagNull   = 0
	objTagRef    = 1
	objTagByCopy = 2
)

// EncodeArg appends the wire encoding of a single argument or return value
// to buf, dispatching on its type letter.
func EncodeArg(buf *bytes.Buffer, a Arg) error {
	entry, err := Lookup(a.Letter)
	if err != nil {
		return err
	}
	switch {
	case entry.IsObject:
		if a.ObjRef == nil && a.ByCopy == nil {
			return buf.WriteByte(objTagNull)
		}
		if a.ObjRef != nil {
			if err := buf.WriteByte(objTagRef); err != nil {
				return err
			}
			if err := binary.Write(buf, binary.LittleEndian, a.ObjRef.RefNum); err != nil {
				return err
			}
			return buf.WriteByte(byte(a.ObjRef.OwnerSide))
		}
		if err := buf.WriteByte(objTagByCopy); err != nil {
			return err
		}
		if err := writeLenPrefixed(buf, []byte(a.ByCopy.TypeName)); err != nil {
			return err
		}
		return writeLenPrefixed(buf, a.ByCopy.Data)
	case a.Letter == '*' || a.Letter == ':':
		return writeLenPrefixed(buf, []byte(a.Str))
	case a.Letter == 'b' || a.Letter == '^':
		return writeLenPrefixed(buf, a.Blob)
	default:
		return binary.Write(buf, binary.LittleEndian, a.Prim)
	}
}

// DecodeArg reads one argument or return value of the given letter/qualifier
// from r.
func DecodeArg(r *bytes.Reader, letter byte, qualifier Qualifier) (Arg, error) {
	entry, err := Lookup(letter)
	if err != nil {
		return Arg{}, err
	}
	a := Arg{Letter: letter, Qualifier: qualifier}
	switch {
	case entry.IsObject:
		tag, err := r.ReadByte()
		if err != nil {
			return Arg{}, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated object tag")
		}
		switch tag {
		case objTagNull:
			// leave ObjRef/ByCopy nil
		case objTagRef:
			var refNum uint32
			if err := binary.Read(r, binary.LittleEndian, &refNum); err != nil {
				return Arg{}, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated object refnum")
			}
			side, err := r.ReadByte()
			if err != nil {
				return Arg{}, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated object owner side")
			}
			a.ObjRef = &ObjRef{RefNum: refNum, OwnerSide: OwnerSide(side)}
		case objTagByCopy:
			name, err := readLenPrefixed(r)
			if err != nil {
				return Arg{}, err
			}
			data, err := readLenPrefixed(r)
			if err != nil {
				return Arg{}, err
			}
			a.ByCopy = &ByCopyPayload{TypeName: string(name), Data: data}
		default:
			return Arg{}, dcerr.New(dcerr.KindMalformedFrame, "unknown object tag %d", tag)
		}
		return a, nil
	case letter == '*' || letter == ':':
		b, err := readLenPrefixed(r)
		if err != nil {
			return Arg{}, err
		}
		a.Str = string(b)
		return a, nil
	case letter == 'b' || letter == '^':
		b, err := readLenPrefixed(r)
		if err != nil {
			return Arg{}, err
		}
		a.Blob = b
		return a, nil
	default:
		a.Prim, err = decodePrimitive(r, letter)
		return a, err
	}
}

func decodePrimitive(r *bytes.Reader, letter byte) (interface{}, error) {
	var v interface{}
	var err error
	switch letter {
	case 'c':
		var x int8
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'C':
		var x uint8
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 's':
		var x int16
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'S':
		var x uint16
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'i', 'l':
		var x int32
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'I', 'L':
		var x uint32
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'q':
		var x int64
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'Q':
		var x uint64
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'f':
		var x float32
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'd':
		var x float64
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x
	case 'B':
		var x uint8
		err = binary.Read(r, binary.LittleEndian, &x)
		v = x != 0
	default:
		return nil, dcerr.New(dcerr.KindEncodingMismatch, "unrecognised primitive type letter %q", letter)
	}
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated primitive of type %q", letter)
	}
	return v, nil
}

// EncodeInvocation serialises selector, type signature, and each argument in
// declaration order (spec §4.A).
func EncodeInvocation(inv *Invocation) ([]byte, error) {
	var buf bytes.Buffer
	if inv.Target == nil {
		if err := buf.WriteByte(objTagNull); err != nil {
			return nil, err
		}
	} else {
		if err := buf.WriteByte(objTagRef); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, inv.Target.RefNum); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(inv.Target.OwnerSide)); err != nil {
			return nil, err
		}
	}
	if err := writeLenPrefixed(&buf, []byte(inv.Selector)); err != nil {
		return nil, err
	}
	if err := writeLenPrefixed(&buf, []byte(inv.TypeSig)); err != nil {
		return nil, err
	}
	_, argElems := ParseTypeSig(inv.TypeSig)
	if len(argElems) != len(inv.Args) {
		return nil, dcerr.New(dcerr.KindEncodingMismatch, "type signature declares %d args, got %d", len(argElems), len(inv.Args))
	}
	for i, a := range inv.Args {
		if err := EncodeArg(&buf, a); err != nil {
			return nil, err
		}
		_ = i
	}
	return buf.Bytes(), nil
}

// DecodeInvocation is the mirror of EncodeInvocation.
func DecodeInvocation(b []byte) (*Invocation, error) {
	r := bytes.NewReader(b)

	targetTag, err := r.ReadByte()
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated invocation target tag")
	}
	var target *ObjRef
	switch targetTag {
	case objTagNull:
	case objTagRef:
		var refNum uint32
		if err := binary.Read(r, binary.LittleEndian, &refNum); err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated invocation target refnum")
		}
		side, err := r.ReadByte()
		if err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated invocation target owner side")
		}
		target = &ObjRef{RefNum: refNum, OwnerSide: OwnerSide(side)}
	default:
		return nil, dcerr.New(dcerr.KindMalformedFrame, "unknown invocation target tag %d", targetTag)
	}

	selector, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	typeSigBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	typeSig := string(typeSigBytes)
	_, argElems := ParseTypeSig(typeSig)

	inv := &Invocation{Target: target, Selector: string(selector), TypeSig: typeSig}
	for _, elem := range argElems {
		qual, letter := SplitQualifier(elem)
		a, err := DecodeArg(r, letter, qual)
		if err != nil {
			return nil, err
		}
		inv.Args = append(inv.Args, a)
	}
	if r.Len() != 0 {
		return nil, dcerr.New(dcerr.KindMalformedFrame, "%d trailing bytes after invocation", r.Len())
	}
	return inv, nil
}
