package dproxy

import (
	"sort"
	"strings"
	"sync"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dconn"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

// ClassFactory allocates a fresh instance of a vended class.
type ClassFactory func() interface{}

type classEntry struct {
	name    string
	factory ClassFactory
	handle  *classHandle
}

// classHandle is the server-side placeholder an objc_getClass: reply
// points at; its sole selector is "alloc".
type classHandle struct {
	entry *classEntry
}

// ClassList is the by-copy payload objc_getClassList answers with.
type ClassList []string

const classListTypeName = "distclass.ClassList"

func init() {
	wire.Register(classListTypeName, func() wire.ByCopyDecodable { return new(ClassList) })
}

// MarshalByCopy implements wire.ByCopyValue.
func (c ClassList) MarshalByCopy() ([]byte, error) {
	return []byte(strings.Join([]string(c), "\n")), nil
}

// UnmarshalByCopy implements wire.ByCopyDecodable.
func (c *ClassList) UnmarshalByCopy(b []byte) error {
	if len(b) == 0 {
		*c = nil
		return nil
	}
	*c = strings.Split(string(b), "\n")
	return nil
}

// Vendor is the server-side root object a client receives from
// ConnectLocal/ConnectRemote: a registration table of vended classes,
// mirroring original_source's ServerRegistration.h. Concrete application
// root objects embed or wrap a Vendor to add their own vended classes.
type Vendor struct {
	mu      sync.Mutex
	classes map[string]*classEntry
	conn    *dconn.Connection
}

// NewVendor returns an empty class registry.
func NewVendor() *Vendor {
	return &Vendor{classes: make(map[string]*classEntry)}
}

// BindConnection attaches the Connection a Vendor was installed as the root
// object of, satisfying dconn's root-object binder hook. Alloc needs it to
// register newly-created instances in the proxy tables; it cannot be
// supplied at NewVendor time since the Connection does not exist until
// after its RootObject is configured.
func (v *Vendor) BindConnection(conn *dconn.Connection) {
	v.mu.Lock()
	v.conn = conn
	v.mu.Unlock()
}

// RegisterClass makes name allocable via objc_getClass:/alloc.
func (v *Vendor) RegisterClass(name string, factory ClassFactory) {
	v.mu.Lock()
	e := &classEntry{name: name, factory: factory}
	e.handle = &classHandle{entry: e}
	v.classes[name] = e
	v.mu.Unlock()
}

// ClassNames lists every registered class, sorted.
func (v *Vendor) ClassNames() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.classes))
	for n := range v.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TryMethodSignature answers methodSignatureForSelector: for the vendor's
// own selectors and for "alloc" on one of its class handles, returning
// ok=false for anything else so callers fall through to their own
// dispatch's signature resolution.
func (v *Vendor) TryMethodSignature(target *proxytab.Proxy, selector string) (sig string, ok bool) {
	switch target.Local.(type) {
	case *Vendor:
		switch selector {
		case "objc_getClass:":
			return "@:*", true
		case "objc_getClassList":
			return "@", true
		}
	case *classHandle:
		if selector == "alloc" {
			return "@", true
		}
	}
	return "", false
}

// TryDispatch executes the vendor's own two selectors and a class handle's
// "alloc", returning ok=false for any other (target, selector) pair so
// callers fall through to their own dispatch for allocated instances.
func (v *Vendor) TryDispatch(target *proxytab.Proxy, inv *wire.Invocation) (arg *wire.Arg, exc *dcerr.RemoteInfo, ok bool) {
	switch h := target.Local.(type) {
	case *Vendor:
		if h != v {
			return nil, nil, false
		}
		switch inv.Selector {
		case "objc_getClass:":
			return v.dispatchGetClass(inv)
		case "objc_getClassList":
			return v.dispatchGetClassList()
		}
	case *classHandle:
		if inv.Selector == "alloc" {
			return v.dispatchAlloc(h)
		}
	}
	return nil, nil, false
}

func (v *Vendor) dispatchGetClass(inv *wire.Invocation) (*wire.Arg, *dcerr.RemoteInfo, bool) {
	if len(inv.Args) != 1 {
		return nil, &dcerr.RemoteInfo{Name: "ArgumentError", Reason: "objc_getClass: takes one argument"}, true
	}
	name := inv.Args[0].Str
	v.mu.Lock()
	e, known := v.classes[name]
	v.mu.Unlock()
	if !known {
		return nil, &dcerr.RemoteInfo{Name: "NoSuchClass", Reason: name}, true
	}
	var ref *proxytab.Proxy
	var allocErr error
	v.conn.WithLock(func() {
		ref, allocErr = v.conn.Tables().GetOrInsertLocalProxy(e.handle)
	})
	if allocErr != nil {
		return nil, &dcerr.RemoteInfo{Name: "RefExhausted", Reason: allocErr.Error()}, true
	}
	return &wire.Arg{Letter: '@', Qualifier: wire.QualifierByRef, ObjRef: &wire.ObjRef{RefNum: ref.RefNum, OwnerSide: wire.OwnerSender}}, nil, true
}

func (v *Vendor) dispatchGetClassList() (*wire.Arg, *dcerr.RemoteInfo, bool) {
	payload, err := wire.NewByCopyPayload(classListTypeName, ClassList(v.ClassNames()))
	if err != nil {
		return nil, &dcerr.RemoteInfo{Name: "EncodingError", Reason: err.Error()}, true
	}
	return &wire.Arg{Letter: '@', Qualifier: wire.QualifierByCopy, ByCopy: payload}, nil, true
}

func (v *Vendor) dispatchAlloc(h *classHandle) (*wire.Arg, *dcerr.RemoteInfo, bool) {
	obj := h.entry.factory()
	var ref *proxytab.Proxy
	var allocErr error
	v.conn.WithLock(func() {
		ref, allocErr = v.conn.Tables().GetOrInsertLocalProxy(obj)
	})
	if allocErr != nil {
		return nil, &dcerr.RemoteInfo{Name: "RefExhausted", Reason: allocErr.Error()}, true
	}
	return &wire.Arg{Letter: '@', Qualifier: wire.QualifierByRef, ObjRef: &wire.ObjRef{RefNum: ref.RefNum, OwnerSide: wire.OwnerSender}}, nil, true
}
