package channel

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/openrovo/rovo/roboproto"
)

// localDevice is a minimal in-test device: it answers every request with
// a canned result under the same id.
type localDevice struct {
	listener net.Listener
	result   string

	mu       sync.Mutex
	conn     net.Conn
	accepted int
}

func newLocalDevice(t *testing.T, result string) *localDevice {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	d := &localDevice{listener: l, result: result}
	go d.serve(t)
	t.Cleanup(d.close)
	return d
}

func (d *localDevice) port() int {
	return d.listener.Addr().(*net.TCPAddr).Port
}

func (d *localDevice) serve(t *testing.T) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.accepted++
		d.mu.Unlock()
		go d.answer(t, conn)
	}
}

func (d *localDevice) answer(t *testing.T, conn net.Conn) {
	enc, dec := roboproto.NewPlainCodec()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, msg := range dec(buf[:n]) {
			id, ok := msg.RequestID()
			if !ok {
				continue
			}
			reply := roboproto.NewMessage(roboproto.ProtocolGeneralResponse, responseEnvelope(t, id, d.result))
			data, err := enc(reply)
			if err != nil {
				return
			}
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
	}
}

// dropConnection closes the accepted connection, simulating the device
// going away mid-command.
func (d *localDevice) dropConnection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *localDevice) close() {
	d.listener.Close()
	d.dropConnection()
}

func (d *localDevice) acceptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted
}

func newTestLocalChannel(port int) *LocalChannel {
	enc, dec := roboproto.NewPlainCodec()
	ch := NewLocalChannel("127.0.0.1", enc, dec)
	ch.port = port
	return ch
}

func localRequest(t *testing.T, id int, method string) roboproto.Message {
	t.Helper()
	req := roboproto.Request{ID: id, Method: method, Timestamp: time.Now().Unix()}
	msg, err := req.LocalMessage()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestLocalChannelRoundTrip(t *testing.T) {
	device := newLocalDevice(t, `{"state":8,"battery":100}`)
	ch := newTestLocalChannel(device.port())
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ch.Connected() {
		t.Fatal("channel should report connected")
	}

	reply, err := ch.Send(context.Background(), localRequest(t, 12345, "get_status"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := reply.RPCResult()
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != 12345 || string(resp.Result) != `{"state":8,"battery":100}` {
		t.Errorf("response = %+v", resp)
	}
}

func TestLocalChannelConnectFailureIsSynchronous(t *testing.T) {
	// A listener that is immediately closed leaves a port nothing accepts on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	ch := newTestLocalChannel(port)
	defer ch.Close()

	if err := ch.Connect(context.Background()); !IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
	if ch.Connected() {
		t.Error("failed connect must leave the channel disconnected")
	}
}

func TestLocalChannelSendWhileDisconnected(t *testing.T) {
	ch := newTestLocalChannel(1)
	defer ch.Close()

	_, err := ch.Send(context.Background(), localRequest(t, 12346, "get_status"), time.Second)
	if !IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
}

func TestLocalChannelConcurrentConnectDialsOnce(t *testing.T) {
	device := newLocalDevice(t, "\"ok\"")
	ch := newTestLocalChannel(device.port())
	defer ch.Close()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ch.Connect(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	if _, err := ch.Send(context.Background(), localRequest(t, 24000, "get_status"), time.Second); err != nil {
		t.Fatal(err)
	}
	if got := device.acceptCount(); got != 1 {
		t.Errorf("device accepted %d connections, want 1", got)
	}
}

func TestLocalChannelConnectionLostFailsInFlight(t *testing.T) {
	device := newLocalDevice(t, "\"ok\"")
	ch := newTestLocalChannel(device.port())
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Reserve a slot directly so the drop happens with a command pending
	slot, err := ch.table.add(22000)
	if err != nil {
		t.Fatal(err)
	}
	device.dropConnection()

	select {
	case _, ok := <-slot:
		if ok {
			t.Fatal("slot should have been failed, not resolved")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss did not fail the pending command")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ch.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("channel still reports connected after loss")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := ch.Send(context.Background(), localRequest(t, 22001, "get_status"), time.Second); !IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error after loss", err)
	}
}

func TestLocalChannelReplyAlsoReachesSubscribers(t *testing.T) {
	device := newLocalDevice(t, "\"ok\"")
	ch := newTestLocalChannel(device.port())
	defer ch.Close()

	var mu sync.Mutex
	var seen int
	if _, err := ch.Subscribe(func(roboproto.Message) {
		mu.Lock()
		seen++
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := ch.Send(context.Background(), localRequest(t, 23000, "get_status"), time.Second); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != 1 {
		t.Errorf("subscribers saw %d messages, want 1", seen)
	}
}

func TestLocalChannelCloseIsIdempotent(t *testing.T) {
	device := newLocalDevice(t, "\"ok\"")
	ch := newTestLocalChannel(device.port())

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Connect(context.Background()); err == nil {
		t.Error("connect after close must fail")
	}
}

func TestLocalPortConstant(t *testing.T) {
	enc, dec := roboproto.NewPlainCodec()
	ch := NewLocalChannel("192.168.1.50", enc, dec)
	defer ch.Close()
	if ch.port != LocalPort {
		t.Errorf("default port = %d, want %d", ch.port, LocalPort)
	}
}
