// Package proxytab implements the three per-connection proxy mappings of
// spec §4.E. Every operation here is internal and must be called while the
// owning Connection holds its single lock (spec §5), a non-reentrant mutex;
// Tables keeps no lock of its own.
package proxytab

import "github.com/distclass-go/dorpc/dcerr"

// Proxy is either a wrapper around a locally-owned object exposed to the
// peer (Local set, RefNum assigned from our counter) or a placeholder for
// an object the peer owns (Local nil, RefNum assigned by the peer).
type Proxy struct {
	RefNum uint32
	Local  interface{}

	// refs counts live user handles on a remote placeholder (Local == nil).
	// It has no meaning for a local proxy: a local proxy's destruction is
	// driven entirely by the peer's release notification, not by a count
	// kept on this side (spec §3 "Lifecycles").
	refs int
}

// Tables holds the three mappings a Connection maintains between proxy
// reference numbers and the objects they stand in for.
type Tables struct {
	localObjects  map[interface{}]*Proxy // real-object-identity -> Proxy (Local set)
	localByRemote map[uint32]*Proxy      // our refNum -> Proxy
	remoteObjects map[uint32]*Proxy      // their refNum -> Proxy
	nextRef       uint32
}

// New returns an empty set of proxy tables.
func New() *Tables {
	return &Tables{
		localObjects:  make(map[interface{}]*Proxy),
		localByRemote: make(map[uint32]*Proxy),
		remoteObjects: make(map[uint32]*Proxy),
	}
}

// GetOrInsertLocalProxy returns the existing Proxy for obj (identity-hashed)
// or allocates a fresh reference number and inserts one. Idempotent: calling
// it twice with the same obj returns the same Proxy.
func (t *Tables) GetOrInsertLocalProxy(obj interface{}) (*Proxy, error) {
	if p, ok := t.localObjects[obj]; ok {
		return p, nil
	}
	ref, err := t.allocRef()
	if err != nil {
		return nil, err
	}
	p := &Proxy{RefNum: ref, Local: obj}
	t.localObjects[obj] = p
	t.localByRemote[ref] = p
	return p, nil
}

// InsertAt explicitly binds obj at a specific local reference number,
// bypassing the counter. Used once per connection to seed the well-known
// root/vendor object at reference number 0.
func (t *Tables) InsertAt(ref uint32, obj interface{}) *Proxy {
	p := &Proxy{RefNum: ref, Local: obj}
	t.localObjects[obj] = p
	t.localByRemote[ref] = p
	return p
}

// GetLocalByRemote looks up a locally-owned object by the reference number
// we issued for it, returning nil if there is none.
func (t *Tables) GetLocalByRemote(ourRef uint32) *Proxy {
	return t.localByRemote[ourRef]
}

// GetOrInsertRemoteProxy returns the existing placeholder Proxy for a
// peer-owned object, or inserts one with no Local value. Every call — new
// insert or existing hit — represents a fresh live handle the caller now
// holds, so it increments the placeholder's reference count; pair each call
// with a matching ReleaseRemoteProxy.
func (t *Tables) GetOrInsertRemoteProxy(theirRef uint32) *Proxy {
	if p, ok := t.remoteObjects[theirRef]; ok {
		p.refs++
		return p
	}
	p := &Proxy{RefNum: theirRef, refs: 1}
	t.remoteObjects[theirRef] = p
	return p
}

// DropLocalProxy removes both directions of a locally-owned object's entry.
func (t *Tables) DropLocalProxy(obj interface{}) {
	if p, ok := t.localObjects[obj]; ok {
		delete(t.localByRemote, p.RefNum)
		delete(t.localObjects, obj)
	}
}

// DropLocalByRemote removes a locally-owned object's entry identified only
// by the reference number we issued for it. Used on receipt of the peer's
// release notification, which names a refnum, not an object identity.
func (t *Tables) DropLocalByRemote(ourRef uint32) bool {
	p, ok := t.localByRemote[ourRef]
	if !ok {
		return false
	}
	delete(t.localByRemote, ourRef)
	delete(t.localObjects, p.Local)
	return true
}

// DropRemoteProxy unconditionally removes the placeholder for a peer-owned
// object, ignoring any outstanding reference count. The caller is
// responsible for emitting the out-of-band release message to the peer
// (spec §4.E) once this returns true.
func (t *Tables) DropRemoteProxy(theirRef uint32) bool {
	if _, ok := t.remoteObjects[theirRef]; !ok {
		return false
	}
	delete(t.remoteObjects, theirRef)
	return true
}

// ReleaseRemoteProxy decrements the reference count a prior
// GetOrInsertRemoteProxy call took out on theirRef. It reports the
// placeholder dropped only when this was the last outstanding handle, which
// is the caller's cue to emit the peer release notification.
func (t *Tables) ReleaseRemoteProxy(theirRef uint32) bool {
	p, ok := t.remoteObjects[theirRef]
	if !ok {
		return false
	}
	p.refs--
	if p.refs > 0 {
		return false
	}
	delete(t.remoteObjects, theirRef)
	return true
}

func (t *Tables) allocRef() (uint32, error) {
	if t.nextRef == ^uint32(0) {
		return 0, dcerr.New(dcerr.KindRefExhausted, "local reference counter exhausted")
	}
	t.nextRef++
	return t.nextRef, nil
}
