package router

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ospf2d/ospf2d/internal/iface"
	"github.com/ospf2d/ospf2d/internal/neighbor"
	"github.com/ospf2d/ospf2d/ospf2"
)

func TestPacketSenderErrorsOnUnknownInterface(t *testing.T) {
	t.Parallel()

	s := NewPacketSender(map[string]*ospf2.Conn{}, ospf2.EBit, 1500, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	i := &iface.Interface{Name: "eth0"}
	err := s.SendHello(i)
	if err == nil || !strings.Contains(err.Error(), "no connection for interface") {
		t.Fatalf("SendHello error = %v, want a missing-connection error", err)
	}
}

func TestPacketSenderQueueFullReturnsError(t *testing.T) {
	t.Parallel()

	s := NewPacketSender(map[string]*ospf2.Conn{}, 0, 0, nil)
	// Don't start Run: every queued request sits until the buffer fills.
	for i := 0; i < cap(s.requests); i++ {
		s.requests <- sendRequest{ifaceName: "eth0", reply: make(chan error, 1)}
	}

	i := &iface.Interface{Name: "eth0"}
	if err := s.SendLSAck(i, net.ParseIP("10.0.0.2"), nil); err == nil {
		t.Fatal("expected an error once the send queue is full")
	}
}

func TestIdOfAndIPToUint32RoundTrip(t *testing.T) {
	t.Parallel()

	ip := net.ParseIP("192.168.1.42")
	id := idOf(ip)
	if id != (ospf2.ID{192, 168, 1, 42}) {
		t.Fatalf("idOf(%v) = %v, want {192,168,1,42}", ip, id)
	}
	if got := ipToUint32(ip); got != 0xc0a8012a {
		t.Fatalf("ipToUint32(%v) = %#x, want 0xc0a8012a", ip, got)
	}
}

func TestIPToUint32NonIPv4ReturnsZero(t *testing.T) {
	t.Parallel()

	if got := ipToUint32(net.ParseIP("::1")); got != 0 {
		t.Fatalf("ipToUint32(::1) = %#x, want 0", got)
	}
}

func TestHeaderUsesInterfaceRouterAndAreaID(t *testing.T) {
	t.Parallel()

	s := NewPacketSender(map[string]*ospf2.Conn{}, 0, 0, nil)
	i := &iface.Interface{
		Name:     "eth0",
		RouterID: ospf2.ID{10, 0, 0, 1},
		AreaID:   ospf2.ID{0, 0, 0, 1},
	}

	h := s.header(i)
	if h.RouterID != i.RouterID || h.AreaID != i.AreaID {
		t.Fatalf("header = %+v, want RouterID=%v AreaID=%v", h, i.RouterID, i.AreaID)
	}
}

func TestAllSendMethodsReturnUnknownInterfaceErrorPromptly(t *testing.T) {
	t.Parallel()

	s := NewPacketSender(map[string]*ospf2.Conn{}, ospf2.EBit, 1500, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	i := &iface.Interface{Name: "eth0"}
	dst := net.ParseIP("10.0.0.2")
	nbr := &neighbor.Neighbor{IP: dst}

	calls := []func() error{
		func() error { return s.SendHello(i) },
		func() error { return s.SendDBD(i, nbr, 0, 0, nil) },
		func() error { return s.SendLSR(i, nbr, nil) },
		func() error { return s.SendLSU(i, dst, nil) },
		func() error { return s.FloodLSU(i, nil, nil) },
		func() error { return s.SendLSAck(i, dst, nil) },
	}
	for idx, call := range calls {
		done := make(chan error, 1)
		go func() { done <- call() }()
		select {
		case err := <-done:
			if err == nil || !strings.Contains(err.Error(), "no connection for interface") {
				t.Fatalf("call %d: err = %v, want a missing-connection error", idx, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("call %d did not return promptly", idx)
		}
	}
}
