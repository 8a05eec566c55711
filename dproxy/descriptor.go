package dproxy

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

// MethodDescriptor carries a selector's type encoding the way a client
// discovers a remote API without compile-time stubs: type encoding,
// argument count, selector, return-type string, per-argument type strings.
type MethodDescriptor struct {
	Selector     string
	TypeEncoding string
	ArgCount     int
	ReturnType   string
	ArgTypes     []string
}

const methodDescriptorTypeName = "distclass.MethodDescriptor"

func init() {
	wire.Register(methodDescriptorTypeName, func() wire.ByCopyDecodable { return &MethodDescriptor{} })
}

// MarshalByCopy implements wire.ByCopyValue.
func (m MethodDescriptor) MarshalByCopy() ([]byte, error) {
	var buf bytes.Buffer
	fields := append([]string{m.Selector, m.TypeEncoding, m.ReturnType}, m.ArgTypes...)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(m.ArgCount)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(fields))); err != nil {
		return nil, err
	}
	for _, s := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	return buf.Bytes(), nil
}

// UnmarshalByCopy implements wire.ByCopyDecodable.
func (m *MethodDescriptor) UnmarshalByCopy(b []byte) error {
	r := bytes.NewReader(b)
	var argCount, n uint32
	if err := binary.Read(r, binary.LittleEndian, &argCount); err != nil {
		return dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated method descriptor")
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated method descriptor")
	}
	fields := make([]string, n)
	for i := range fields {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated method descriptor field")
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated method descriptor field")
		}
		fields[i] = string(buf)
	}
	if len(fields) < 3 {
		return dcerr.New(dcerr.KindMalformedFrame, "method descriptor missing required fields")
	}
	m.Selector, m.TypeEncoding, m.ReturnType = fields[0], fields[1], fields[2]
	m.ArgTypes = fields[3:]
	m.ArgCount = int(argCount)
	return nil
}

// ProtocolDescriptor is the set of selectors with their type signatures a
// proxy can resolve locally instead of asking the peer.
type ProtocolDescriptor struct {
	Name    string
	methods map[string]MethodDescriptor
}

// NewProtocolDescriptor builds a descriptor from a method list.
func NewProtocolDescriptor(name string, methods []MethodDescriptor) *ProtocolDescriptor {
	pd := &ProtocolDescriptor{Name: name, methods: make(map[string]MethodDescriptor, len(methods))}
	for _, m := range methods {
		pd.methods[m.Selector] = m
	}
	return pd
}

// Method looks up a selector's descriptor.
func (pd *ProtocolDescriptor) Method(selector string) (MethodDescriptor, bool) {
	m, ok := pd.methods[selector]
	return m, ok
}

// ClassDescriptor is a small proxied object exposed by a server's root
// object: it carries the class's name and can allocate a fresh instance
// remotely via alloc(). StoredClassName is known to the caller directly
// (it is the name objc_getClass was asked for) so it needs no round trip;
// alloc() is the part that requires one.
type ClassDescriptor struct {
	*Proxy
	StoredClassName string
}

// Alloc sends the remote "alloc" selector and wraps the resulting by-ref
// object as a new instance Proxy of this class.
func (cd *ClassDescriptor) Alloc(conversation uint32) (*Proxy, error) {
	ret, err := cd.Forward(conversation, "alloc", nil, '@', wire.QualifierByRef)
	if err != nil {
		return nil, err
	}
	if ret.ObjRef == nil {
		return nil, dcerr.New(dcerr.KindEncodingMismatch, "alloc returned no object reference")
	}
	var ref *proxytab.Proxy
	cd.Connection().WithLock(func() {
		ref = cd.Connection().Tables().GetOrInsertRemoteProxy(ret.ObjRef.RefNum)
	})
	return New(cd.Connection(), ref, cd.StoredClassName), nil
}
