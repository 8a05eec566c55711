package dorpc

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/distclass-go/dorpc/dclog"
	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dconn"
	"github.com/distclass-go/dorpc/dproxy"
	"github.com/distclass-go/dorpc/envelope"
	"github.com/distclass-go/dorpc/port"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

func testLogger(name string) dclog.Logger {
	return dclog.New(name, dclog.LogLevelError)
}

// pairUp wires a client and server Connection directly over an in-process
// Port pair, the same harness shape dconn's own tests use, skipping name
// server rendezvous entirely since these tests exercise the engine and
// proxy layers, not discovery.
func pairUp(t *testing.T, serverRoot *dproxy.Vendor) (client *dconn.Connection, clientRoot *dproxy.Proxy, server *dconn.Connection) {
	t.Helper()
	pa, pb, err := port.NewPair(testLogger("pair"))
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}

	clientVendor := dproxy.NewVendor()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() {
		defer wg.Done()
		client, clientErr = dconn.New(dconn.Config{
			Logger:      testLogger("client"),
			SendPort:    pa,
			RecvPort:    pa,
			Envelope:    envelope.NoneDelegate{},
			IsInitiator: true,
			Dispatch:    newReflectDispatch(clientVendor),
			RootObject:  clientVendor,
			AcksEnabled: true,
		})
	}()
	go func() {
		defer wg.Done()
		server, serverErr = dconn.New(dconn.Config{
			Logger:      testLogger("server"),
			SendPort:    pb,
			RecvPort:    pb,
			Envelope:    envelope.NoneDelegate{},
			IsInitiator: false,
			Dispatch:    newReflectDispatch(serverRoot),
			RootObject:  serverRoot,
			AcksEnabled: true,
		})
	}()
	wg.Wait()
	if clientErr != nil {
		t.Fatalf("New(client): %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("New(server): %v", serverErr)
	}

	var rootRef *proxytab.Proxy
	client.WithLock(func() {
		rootRef = client.Tables().GetOrInsertRemoteProxy(0)
	})
	clientRoot = dproxy.New(client, rootRef, "Vendor")
	return client, clientRoot, server
}

// Counter is a plain Go type reflective dispatch invokes directly; it has
// no knowledge of proxying or the wire protocol at all.
type Counter struct {
	mu sync.Mutex
	n  int32
}

func (c *Counter) Increment() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *Counter) Value() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Echoer reverses a string, exercising the by-copy '*' argument/return path.
type Echoer struct{}

func (Echoer) Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// outOfRangeError is a domain error that controls its own exception name
// across the wire via RemoteError.
type outOfRangeError struct {
	index int
}

func (e *outOfRangeError) Error() string      { return fmt.Sprintf("i=%d", e.index) }
func (e *outOfRangeError) RemoteName() string { return "OutOfRange" }

// Ranger raises outOfRangeError for any index outside [0,9].
type Ranger struct{}

func (Ranger) At(index int32) (int32, error) {
	if index < 0 || index > 9 {
		return 0, &outOfRangeError{index: int(index)}
	}
	return index * index, nil
}

func allocClass(t *testing.T, root *dproxy.Proxy, className string) *dproxy.ClassDescriptor {
	t.Helper()
	arg, err := root.Forward(1, "objc_getClass:", []wire.Arg{{Letter: '*', Str: className}}, '@', wire.QualifierByRef)
	if err != nil {
		t.Fatalf("objc_getClass:(%s): %v", className, err)
	}
	if arg.ObjRef == nil {
		t.Fatalf("objc_getClass:(%s) returned no object reference", className)
	}
	var ref *proxytab.Proxy
	root.Connection().WithLock(func() {
		ref = root.Connection().Tables().GetOrInsertRemoteProxy(arg.ObjRef.RefNum)
	})
	return &dproxy.ClassDescriptor{Proxy: dproxy.New(root.Connection(), ref, "Class"), StoredClassName: className}
}

func TestDiscoveryAllocAndMethodCalls(t *testing.T) {
	root := dproxy.NewVendor()
	root.RegisterClass("Counter", func() interface{} { return &Counter{} })
	client, clientRoot, server := pairUp(t, root)
	defer client.Close()
	defer server.Close()

	namesArg, err := clientRoot.Forward(1, "objc_getClassList", nil, '@', wire.QualifierByCopy)
	if err != nil {
		t.Fatalf("objc_getClassList: %v", err)
	}
	decoded, err := namesArg.ByCopy.Decode()
	if err != nil {
		t.Fatalf("decode class list: %v", err)
	}
	list := *decoded.(*dproxy.ClassList)
	if len(list) != 1 || list[0] != "Counter" {
		t.Fatalf("got class list %v, want [Counter]", list)
	}

	classDesc := allocClass(t, clientRoot, "Counter")
	instance, err := classDesc.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := instance.Forward(1, "increment", nil, 'B', wire.QualifierNone); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	ret, err := instance.Forward(1, "value", nil, 'i', wire.QualifierNone)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if ret.Prim.(int32) != 3 {
		t.Fatalf("value = %v, want 3", ret.Prim)
	}
}

func TestInstanceReleaseDropsServerSideProxy(t *testing.T) {
	root := dproxy.NewVendor()
	root.RegisterClass("Counter", func() interface{} { return &Counter{} })
	client, clientRoot, server := pairUp(t, root)
	defer client.Close()
	defer server.Close()

	classDesc := allocClass(t, clientRoot, "Counter")
	instance, err := classDesc.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	ref := instance.RefNum()

	var before *proxytab.Proxy
	server.WithLock(func() { before = server.Tables().GetLocalByRemote(ref) })
	if before == nil {
		t.Fatalf("expected server to hold a local proxy for refnum %d before release", ref)
	}

	instance.Release()

	deadline := time.Now().Add(time.Second)
	for {
		var after *proxytab.Proxy
		server.WithLock(func() { after = server.Tables().GetLocalByRemote(ref) })
		if after == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected server's local proxy for refnum %d to be dropped after Release", ref)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestByCopyStringRoundTrip(t *testing.T) {
	root := dproxy.NewVendor()
	root.RegisterClass("Echoer", func() interface{} { return Echoer{} })
	client, clientRoot, server := pairUp(t, root)
	defer client.Close()
	defer server.Close()

	classDesc := allocClass(t, clientRoot, "Echoer")
	instance, err := classDesc.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	ret, err := instance.Forward(1, "reverse", []wire.Arg{{Letter: '*', Str: "hello"}}, '*', wire.QualifierNone)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if ret.Str != "olleh" {
		t.Fatalf("reverse(hello) = %q, want %q", ret.Str, "olleh")
	}
}

func TestExceptionPropagationCarriesDomainName(t *testing.T) {
	root := dproxy.NewVendor()
	root.RegisterClass("Ranger", func() interface{} { return Ranger{} })
	client, clientRoot, server := pairUp(t, root)
	defer client.Close()
	defer server.Close()

	classDesc := allocClass(t, clientRoot, "Ranger")
	instance, err := classDesc.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	_, err = instance.Forward(1, "at", []wire.Arg{{Letter: 'i', Prim: int32(7)}}, 'i', wire.QualifierNone)
	if err == nil {
		t.Fatalf("expected an OutOfRange exception")
	}
	if !dcerr.Is(err, dcerr.KindRemoteException) {
		t.Fatalf("expected KindRemoteException, got %v", err)
	}
	if !strings.Contains(err.Error(), "OutOfRange") || !strings.Contains(err.Error(), "i=7") {
		t.Fatalf("expected exception name/reason OutOfRange/i=7, got %q", err.Error())
	}
}

func TestCallAfterConnectionDeathFailsConnectionClosed(t *testing.T) {
	root := dproxy.NewVendor()
	root.RegisterClass("Counter", func() interface{} { return &Counter{} })
	client, clientRoot, server := pairUp(t, root)
	defer server.Close()

	classDesc := allocClass(t, clientRoot, "Counter")
	instance, err := classDesc.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	client.Close()

	_, err = instance.Forward(1, "value", nil, 'i', wire.QualifierNone)
	if !dcerr.Is(err, dcerr.KindConnectionClosed) {
		t.Fatalf("expected KindConnectionClosed after connection death, got %v", err)
	}
}

func TestTwoParallelConversationsDoNotBlockEachOther(t *testing.T) {
	root := dproxy.NewVendor()
	root.RegisterClass("Counter", func() interface{} { return &Counter{} })
	client, clientRoot, server := pairUp(t, root)
	defer client.Close()
	defer server.Close()

	classDesc := allocClass(t, clientRoot, "Counter")
	instanceA, err := classDesc.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	instanceB, err := classDesc.Alloc(2)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 20)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if _, err := instanceA.Forward(10, "increment", nil, 'B', wire.QualifierNone); err != nil {
				errs <- err
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			if _, err := instanceB.Forward(20, "increment", nil, 'B', wire.QualifierNone); err != nil {
				errs <- err
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("increment: %v", err)
	}

	retA, err := instanceA.Forward(10, "value", nil, 'i', wire.QualifierNone)
	if err != nil {
		t.Fatalf("value a: %v", err)
	}
	retB, err := instanceB.Forward(20, "value", nil, 'i', wire.QualifierNone)
	if err != nil {
		t.Fatalf("value b: %v", err)
	}
	if retA.Prim.(int32) != 5 || retB.Prim.(int32) != 5 {
		t.Fatalf("got a=%v b=%v, want both 5", retA.Prim, retB.Prim)
	}
}
