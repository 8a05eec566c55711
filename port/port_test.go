package port

import (
	"testing"
	"time"

	"github.com/distclass-go/dorpc/dclog"
)

func testLogger() dclog.Logger {
	return dclog.New("test", dclog.LogLevelError)
}

func TestPairPortRoundTrip(t *testing.T) {
	a, b, err := NewPair(testLogger())
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	want := []byte("an invocation frame, pretend")
	done := make(chan error, 1)
	go func() {
		done <- a.Send(want, time.Now().Add(time.Second))
	}()
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPairPortMultipleMessagesPreserveOrder(t *testing.T) {
	a, b, err := NewPair(testLogger())
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	go func() {
		for _, m := range msgs {
			a.Send(m, time.Time{})
		}
	}()
	for _, want := range msgs {
		got, err := b.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestPairPortRecvAfterCloseFails(t *testing.T) {
	a, b, err := NewPair(testLogger())
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	a.Close()
	if _, err := b.Recv(); err == nil {
		t.Fatalf("expected error reading from closed peer")
	}
}
