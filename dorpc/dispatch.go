package dorpc

import (
	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dproxy"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

// reflectDispatch is the HostDispatch a bootstrap connection installs: it
// tries the vendor's own selectors (objc_getClass:, objc_getClassList,
// alloc) first, then falls through to reflection over the target's concrete
// Go type, the stand-in this runtime uses for the host dispatch trap
// mechanism a real Objective-C-style bridge would supply.
type reflectDispatch struct {
	vendor *dproxy.Vendor
}

func newReflectDispatch(vendor *dproxy.Vendor) *reflectDispatch {
	return &reflectDispatch{vendor: vendor}
}

func (d *reflectDispatch) Dispatch(target *proxytab.Proxy, inv *wire.Invocation) (*wire.Arg, *dcerr.RemoteInfo) {
	if arg, exc, ok := d.vendor.TryDispatch(target, inv); ok {
		return arg, exc
	}
	if inv.Selector == "methodSignatureForSelector:" {
		return d.dispatchMethodSignature(target, inv)
	}
	return invokeReflect(target.Local, inv)
}

// dispatchMethodSignature answers the internal methodSignatureForSelector:
// RPC a Proxy sends when it has no ProtocolDescriptor installed (spec
// §4.G), resolving against target's own vendor selectors or concrete type.
func (d *reflectDispatch) dispatchMethodSignature(target *proxytab.Proxy, inv *wire.Invocation) (*wire.Arg, *dcerr.RemoteInfo) {
	if len(inv.Args) != 1 {
		return nil, &dcerr.RemoteInfo{Name: "ArgumentError", Reason: "methodSignatureForSelector: takes one argument"}
	}
	sig, err := d.MethodSignature(target, inv.Args[0].Str)
	if err != nil {
		return nil, &dcerr.RemoteInfo{Name: "NoSuchSelector", Reason: err.Error()}
	}
	return &wire.Arg{Letter: '*', Str: sig}, nil
}

func (d *reflectDispatch) MethodSignature(target *proxytab.Proxy, selector string) (string, error) {
	if sig, ok := d.vendor.TryMethodSignature(target, selector); ok {
		return sig, nil
	}
	return reflectSignature(target.Local, selector)
}
