package wire

import (
	"sync"

	"github.com/distclass-go/dorpc/dcerr"
)

// ByCopyValue is implemented by host types that can travel by value (the
// `_C_BYCOPY` convention): the whole object graph is encoded into the body
// and reconstructed on the receiving side via a registered factory.
type ByCopyValue interface {
	MarshalByCopy() ([]byte, error)
}

// ByCopyFactory constructs a zero-value instance of a registered by-copy
// type so its MarshalByCopy/UnmarshalByCopy pair can round-trip it.
type ByCopyFactory func() ByCopyDecodable

// ByCopyDecodable is the receiving half of ByCopyValue.
type ByCopyDecodable interface {
	UnmarshalByCopy([]byte) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]ByCopyFactory{}
)

// Register associates a type name (as carried on the wire in
// ByCopyPayload.TypeName) with a factory for decoding it. Mirrors the
// register-before-use convention of encoding/gob.
func Register(typeName string, factory ByCopyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeName] = factory
}

// NewByCopyPayload encodes v (which must implement ByCopyValue) under the
// given registered type name.
func NewByCopyPayload(typeName string, v ByCopyValue) (*ByCopyPayload, error) {
	data, err := v.MarshalByCopy()
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindEncodingMismatch, err, "MarshalByCopy failed for %s", typeName)
	}
	return &ByCopyPayload{TypeName: typeName, Data: data}, nil
}

// Decode reconstructs the registered Go value for a ByCopyPayload.
func (p *ByCopyPayload) Decode() (ByCopyDecodable, error) {
	registryMu.RLock()
	factory, ok := registry[p.TypeName]
	registryMu.RUnlock()
	if !ok {
		return nil, dcerr.New(dcerr.KindEncodingMismatch, "no by-copy type registered for %q", p.TypeName)
	}
	v := factory()
	if err := v.UnmarshalByCopy(p.Data); err != nil {
		return nil, dcerr.Wrap(dcerr.KindEncodingMismatch, err, "UnmarshalByCopy failed for %s", p.TypeName)
	}
	return v, nil
}
