// Package dproxy implements the Proxy Object: the user-visible remote
// handle that forwards calls into a Connection and caches the type
// signatures it resolves along the way.
package dproxy

import (
	"fmt"
	"sync"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dconn"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

// Proxy stands in for either a local object vended to a peer or a remote
// object the peer vends to us. Which one it is follows from ref.Local: set
// for a local proxy, nil for a remote one.
type Proxy struct {
	conn *dconn.Connection
	ref  *proxytab.Proxy

	className string

	mu            sync.Mutex
	protocol      *ProtocolDescriptor
	selectorCache map[string]string
}

// New wraps ref (already installed in conn's proxy tables) as a Proxy.
// className is used only for String(); pass "" when unknown.
func New(conn *dconn.Connection, ref *proxytab.Proxy, className string) *Proxy {
	return &Proxy{conn: conn, ref: ref, className: className, selectorCache: make(map[string]string)}
}

// RefNum is the reference number identifying this object within its
// connection, assigned by whichever side first announced it.
func (p *Proxy) RefNum() uint32 { return p.ref.RefNum }

// Connection returns the Connection this proxy forwards calls through.
func (p *Proxy) Connection() *dconn.Connection { return p.conn }

// IsLocal reports whether this proxy stands in for an object we vend
// (true) rather than one the peer vends to us (false).
func (p *Proxy) IsLocal() bool { return p.ref.Local != nil }

// Equal implements spec's proxy identity rule: two proxies are equal iff
// they share a connection and a remote reference number.
func (p *Proxy) Equal(other *Proxy) bool {
	return other != nil && p.conn == other.conn && p.ref.RefNum == other.ref.RefNum
}

// String mirrors DCNSDistantObject's -description override.
func (p *Proxy) String() string {
	name := p.className
	if name == "" {
		name = "Proxy"
	}
	return fmt.Sprintf("<%s %d>", name, p.ref.RefNum)
}

// Release drops this handle on a remote object (spec §3 "Lifecycles"). Once
// the last handle on a given reference number is released, the connection
// notifies the peer so its matching local proxy is dropped too. Release on
// a local proxy (one we vend to the peer) is a no-op: that side's proxy is
// destroyed only by the peer's own release notification, never by a call
// from here.
func (p *Proxy) Release() {
	if p.IsLocal() {
		return
	}
	p.conn.ReleaseProxy(p.ref.RefNum)
}

// SetProtocolForProxy installs a protocol descriptor after creation,
// letting the proxy resolve signatures locally instead of round-tripping
// methodSignatureForSelector: for every selector it declares.
func (p *Proxy) SetProtocolForProxy(pd *ProtocolDescriptor) {
	p.mu.Lock()
	p.protocol = pd
	p.mu.Unlock()
}

func (p *Proxy) objRef() *wire.ObjRef {
	if p.ref.Local != nil {
		return &wire.ObjRef{RefNum: p.ref.RefNum, OwnerSide: wire.OwnerSender}
	}
	return &wire.ObjRef{RefNum: p.ref.RefNum, OwnerSide: wire.OwnerReceiver}
}

// Forward is the proxy's dynamic-dispatch hook: it resolves selector's type
// signature, builds an Invocation, and drives it through the Connection.
func (p *Proxy) Forward(conversation uint32, selector string, args []wire.Arg, retLetter byte, retQualifier wire.Qualifier) (*wire.Arg, error) {
	typeSig, err := p.resolveSignature(conversation, selector)
	if err != nil {
		return nil, err
	}
	inv := &wire.Invocation{
		Target:   p.objRef(),
		Selector: selector,
		TypeSig:  typeSig,
		Args:     args,
	}
	reply, err := p.conn.SendRequest(conversation, inv, retLetter, retQualifier)
	if err != nil {
		return nil, err
	}
	if reply.Exception != nil {
		return nil, dcerr.Remote(reply.Exception)
	}
	return reply.Value, nil
}

// resolveSignature implements spec §4.G step 1: protocol descriptor first,
// then the selector cache, then an internal methodSignatureForSelector: RPC.
func (p *Proxy) resolveSignature(conversation uint32, selector string) (string, error) {
	p.mu.Lock()
	protocol := p.protocol
	if protocol == nil {
		if sig, ok := p.selectorCache[selector]; ok {
			p.mu.Unlock()
			return sig, nil
		}
	}
	p.mu.Unlock()

	if protocol != nil {
		m, ok := protocol.Method(selector)
		if !ok {
			return "", dcerr.New(dcerr.KindNoSuchSelector, "selector %q not declared by protocol %s", selector, protocol.Name)
		}
		return m.TypeEncoding, nil
	}

	inv := &wire.Invocation{
		Target:   p.objRef(),
		Selector: "methodSignatureForSelector:",
		TypeSig:  "*:*",
		Args:     []wire.Arg{{Letter: '*', Str: selector}},
	}
	reply, err := p.conn.SendRequest(conversation, inv, '*', wire.QualifierNone)
	if err != nil {
		return "", err
	}
	if reply.Exception != nil {
		return "", dcerr.Remote(reply.Exception)
	}
	sig := reply.Value.Str

	p.mu.Lock()
	p.selectorCache[selector] = sig
	p.mu.Unlock()
	return sig, nil
}
