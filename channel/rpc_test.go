package channel

import (
	"context"
	"testing"
	"time"

	"github.com/openrovo/rovo/roboproto"
)

func TestRPCTableDuplicateID(t *testing.T) {
	table := newRPCTable()
	if _, err := table.add(12345); err != nil {
		t.Fatal(err)
	}
	_, err := table.add(12345)
	if !IsDuplicateRequest(err) {
		t.Fatalf("err = %v, want duplicate request", err)
	}
}

func TestRPCTableResolve(t *testing.T) {
	table := newRPCTable()
	ch, err := table.add(20000)
	if err != nil {
		t.Fatal(err)
	}

	msg := roboproto.NewMessage(roboproto.ProtocolRPCResponse, []byte("{}"))
	if !table.resolve(20000, &msg) {
		t.Fatal("resolve should find the waiting slot")
	}
	select {
	case got := <-ch:
		if got == nil || string(got.Payload) != "{}" {
			t.Errorf("got = %v", got)
		}
	default:
		t.Fatal("resolve must complete the slot without blocking")
	}

	// The id is free again once resolved
	if table.resolve(20000, &msg) {
		t.Error("second resolve must find no waiter")
	}
	if _, err := table.add(20000); err != nil {
		t.Errorf("id should be reusable after resolve: %v", err)
	}
}

func TestAwaitReplyTimeoutFreesSlot(t *testing.T) {
	table := newRPCTable()
	ch, err := table.add(15000)
	if err != nil {
		t.Fatal(err)
	}

	_, err = table.awaitReply(context.Background(), 15000, ch, 20*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}

	if _, err := table.add(15000); err != nil {
		t.Errorf("id should be reusable after timeout: %v", err)
	}
}

func TestAwaitReplyCancelFreesSlot(t *testing.T) {
	table := newRPCTable()
	ch, err := table.add(15001)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = table.awaitReply(ctx, 15001, ch, time.Second)
	chErr, ok := err.(*Error)
	if !ok || chErr.Kind != KindSession {
		t.Fatalf("err = %v, want session error", err)
	}
	if _, err := table.add(15001); err != nil {
		t.Errorf("id should be reusable after cancellation: %v", err)
	}
}

func TestFailAllWakesWaiters(t *testing.T) {
	table := newRPCTable()
	ch, err := table.add(16000)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := table.awaitReply(context.Background(), 16000, ch, time.Minute)
		done <- err
	}()

	table.failAll()
	select {
	case err := <-done:
		chErr, ok := err.(*Error)
		if !ok || chErr.Kind != KindSession {
			t.Fatalf("err = %v, want session error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("failAll did not wake the waiter")
	}
}

func TestCallbackSetPanicIsolation(t *testing.T) {
	var set callbackSet
	set.add(func(roboproto.Message) { panic("subscriber bug") })
	var delivered bool
	set.add(func(roboproto.Message) { delivered = true })

	set.dispatch(roboproto.NewMessage(roboproto.ProtocolGeneralResponse, nil))
	if !delivered {
		t.Error("panic in one callback must not break delivery to others")
	}
}

func TestCallbackSetRemove(t *testing.T) {
	var set callbackSet
	var a, b int
	remove := set.add(func(roboproto.Message) { a++ })
	set.add(func(roboproto.Message) { b++ })

	msg := roboproto.NewMessage(roboproto.ProtocolGeneralResponse, nil)
	set.dispatch(msg)
	remove()
	set.dispatch(msg)

	if a != 1 || b != 2 {
		t.Errorf("a = %d, b = %d, want 1 and 2", a, b)
	}
}
