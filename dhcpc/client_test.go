package dhcpc

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/lovi-cloud/dora/dhcp"
)

var testHW = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}

// fakeTransport hands every sent message to respond and queues its replies.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []*dhcp.Message
	replies chan *dhcp.Message
	respond func(m *dhcp.Message) []*dhcp.Message
}

func newFakeTransport(respond func(m *dhcp.Message) []*dhcp.Message) *fakeTransport {
	return &fakeTransport{
		replies: make(chan *dhcp.Message, 16),
		respond: respond,
	}
}

func (f *fakeTransport) Send(ctx context.Context, m *dhcp.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	if f.respond == nil {
		return nil
	}
	for _, r := range f.respond(m) {
		f.replies <- r
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (*dhcp.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-f.replies:
		return m, nil
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sentMessages() []*dhcp.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*dhcp.Message(nil), f.sent...)
}

func reply(t *testing.T, req *dhcp.Message, typ dhcp.MessageType, addr string) *dhcp.Message {
	t.Helper()
	opts, err := dhcp.NewBuilder().
		MessageType(typ).
		LeaseTime(time.Hour).
		Addr(dhcp.OptSubnetMask, netip.MustParseAddr("255.255.255.0")).
		Addr(dhcp.OptDNSServer, netip.MustParseAddr("8.8.8.8")).
		Addr(dhcp.OptRouter, netip.MustParseAddr("192.168.1.1")).
		Addr(dhcp.OptServerIdentifier, netip.MustParseAddr("192.168.1.2")).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	m := dhcp.NewReply(req)
	m.YourAddr = netip.MustParseAddr(addr)
	m.Options = opts
	return m
}

// server answers DISCOVER with an OFFER and REQUEST with an ACK for the
// requested address.
func server(t *testing.T) func(m *dhcp.Message) []*dhcp.Message {
	return func(m *dhcp.Message) []*dhcp.Message {
		switch m.MessageType() {
		case dhcp.MessageTypeDiscover:
			return []*dhcp.Message{reply(t, m, dhcp.MessageTypeOffer, "192.168.1.100")}
		case dhcp.MessageTypeRequest:
			return []*dhcp.Message{reply(t, m, dhcp.MessageTypeAck, m.YourAddr.String())}
		}
		return nil
	}
}

func newTestClient(t *testing.T, tr Transport, cfg Config) *Client {
	t.Helper()
	if cfg.HardwareAddr == nil {
		cfg.HardwareAddr = testHW
	}
	c, err := New(tr, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestRun(t *testing.T) {
	tr := newFakeTransport(server(t))
	c := newTestClient(t, tr, Config{XID: DefaultXID})

	lease, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := Lease{
		Addr:       netip.MustParseAddr("192.168.1.100"),
		ServerID:   netip.MustParseAddr("192.168.1.2"),
		SubnetMask: netip.MustParseAddr("255.255.255.0"),
		Router:     netip.MustParseAddr("192.168.1.1"),
		DNSServer:  netip.MustParseAddr("8.8.8.8"),
		LeaseTime:  time.Hour,
	}
	if *lease != want {
		t.Fatalf("Run() = %+v, want %+v", *lease, want)
	}

	sent := tr.sentMessages()
	wantTypes := []dhcp.MessageType{dhcp.MessageTypeDiscover, dhcp.MessageTypeRequest, dhcp.MessageTypeRelease}
	if len(sent) != len(wantTypes) {
		t.Fatalf("sent %d messages, want %d", len(sent), len(wantTypes))
	}
	for i, m := range sent {
		if m.MessageType() != wantTypes[i] {
			t.Fatalf("message %d type = %s, want %s", i, m.MessageType(), wantTypes[i])
		}
		if m.Op != dhcp.OpRequest || m.XID != DefaultXID || m.HardwareAddr().String() != testHW.String() {
			t.Fatalf("message %d header = %+v", i, m)
		}
	}

	discover, request, release := sent[0], sent[1], sent[2]
	if !discover.Broadcast() || !request.Broadcast() {
		t.Fatal("DISCOVER and REQUEST must set the broadcast flag")
	}
	if request.YourAddr != want.Addr {
		t.Fatalf("REQUEST yiaddr = %s, want %s", request.YourAddr, want.Addr)
	}
	if got, ok := request.Options.RequestedIP(); !ok || got != want.Addr {
		t.Fatalf("REQUEST requested ip = %s, %v", got, ok)
	}
	if got, ok := request.Options.ServerIdentifier(); !ok || got != want.ServerID {
		t.Fatalf("REQUEST server id = %s, %v", got, ok)
	}
	if release.ClientAddr != want.Addr {
		t.Fatalf("RELEASE ciaddr = %s, want %s", release.ClientAddr, want.Addr)
	}
	if got, ok := release.Options.ServerIdentifier(); !ok || got != want.ServerID {
		t.Fatalf("RELEASE server id = %s, %v", got, ok)
	}
}

func TestCustomXID(t *testing.T) {
	for _, xid := range []uint32{0xdeadbeef, 0} {
		tr := newFakeTransport(server(t))
		c := newTestClient(t, tr, Config{XID: xid})
		if _, err := c.Run(context.Background()); err != nil {
			t.Fatalf("Run() with xid %#x error = %v", xid, err)
		}
		sent := tr.sentMessages()
		if len(sent) != 3 {
			t.Fatalf("sent %d messages, want 3", len(sent))
		}
		for _, m := range sent {
			if m.XID != xid {
				t.Fatalf("%s xid = %#x, want %#x", m.MessageType(), m.XID, xid)
			}
		}
	}
}

func TestAwaitSkipsUnexpectedMessages(t *testing.T) {
	other := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x99}
	tr := newFakeTransport(func(m *dhcp.Message) []*dhcp.Message {
		if m.MessageType() != dhcp.MessageTypeDiscover {
			return nil
		}
		wrongXID := reply(t, m, dhcp.MessageTypeOffer, "192.168.1.110")
		wrongXID.XID++
		wrongType := reply(t, m, dhcp.MessageTypeAck, "192.168.1.111")
		wrongHW := reply(t, m, dhcp.MessageTypeOffer, "192.168.1.112")
		wrongHW.SetHardwareAddr(other)
		echo := *m
		return []*dhcp.Message{wrongXID, wrongType, wrongHW, &echo, reply(t, m, dhcp.MessageTypeOffer, "192.168.1.100")}
	})
	c := newTestClient(t, tr, Config{Timeout: 5 * time.Second})

	offer, err := c.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if offer.YourAddr != netip.MustParseAddr("192.168.1.100") {
		t.Fatalf("Discover() yiaddr = %s, want 192.168.1.100", offer.YourAddr)
	}
}

func TestTimeout(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestClient(t, tr, Config{Timeout: 20 * time.Millisecond})
	_, err := c.Discover(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Discover() error = %v, want DeadlineExceeded", err)
	}
}

func TestCancelDuringDwell(t *testing.T) {
	tr := newFakeTransport(server(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	respond := tr.respond
	tr.respond = func(m *dhcp.Message) []*dhcp.Message {
		if m.MessageType() == dhcp.MessageTypeRequest {
			once.Do(func() { time.AfterFunc(10*time.Millisecond, cancel) })
		}
		return respond(m)
	}
	c := newTestClient(t, tr, Config{Dwell: time.Hour})

	_, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want Canceled", err)
	}
	for _, m := range tr.sentMessages() {
		if m.MessageType() == dhcp.MessageTypeRelease {
			t.Fatal("RELEASE sent after cancel")
		}
	}
}

func TestReleaseFallsBackToSiaddr(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestClient(t, tr, Config{})
	ack := &dhcp.Message{
		Op:         dhcp.OpReply,
		XID:        42,
		YourAddr:   netip.MustParseAddr("192.168.1.101"),
		ServerAddr: netip.MustParseAddr("192.168.1.3"),
	}
	if err := c.Release(context.Background(), ack); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	sent := tr.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	m := sent[0]
	if m.XID != 42 || m.ClientAddr != ack.YourAddr || m.Broadcast() {
		t.Fatalf("RELEASE = %+v", m)
	}
	if got, ok := m.Options.ServerIdentifier(); !ok || got != ack.ServerAddr {
		t.Fatalf("RELEASE server id = %s, %v", got, ok)
	}
}

func TestNewRejectsHardwareAddr(t *testing.T) {
	for _, hw := range []net.HardwareAddr{nil, make(net.HardwareAddr, 17)} {
		_, err := New(newFakeTransport(nil), Config{HardwareAddr: hw}, zaptest.NewLogger(t))
		if !errors.Is(err, ErrInvalidHardwareAddr) {
			t.Fatalf("New(%q) error = %v, want ErrInvalidHardwareAddr", hw.String(), err)
		}
	}
}
