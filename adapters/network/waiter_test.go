package network

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func staticSource(addrs ...Address) AddressSource {
	return func() ([]Address, error) { return addrs, nil }
}

func TestWaiter_FindsAddress(t *testing.T) {
	source := staticSource(
		Address{Interface: "lo", IP: net.ParseIP("127.0.0.1")},
		Address{Interface: "wlan0", IP: net.ParseIP("fe80::1")},
		Address{Interface: "wlan0", IP: net.ParseIP("192.168.1.42")},
	)
	w := NewWaiterWithSource("", time.Millisecond, source, zaptest.NewLogger(t))

	addr, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if addr.Interface != "wlan0" || !addr.IP.Equal(net.ParseIP("192.168.1.42")) {
		t.Errorf("Unexpected address: %+v", addr)
	}
}

func TestWaiter_NamedInterface(t *testing.T) {
	source := staticSource(
		Address{Interface: "eth0", IP: net.ParseIP("10.0.0.2")},
		Address{Interface: "wlan0", IP: net.ParseIP("192.168.1.42")},
	)
	w := NewWaiterWithSource("wlan0", time.Millisecond, source, zap.NewNop())

	addr, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if addr.Interface != "wlan0" {
		t.Errorf("Expected wlan0, got %s", addr.Interface)
	}
}

func TestWaiter_WaitsForAssociation(t *testing.T) {
	calls := 0
	source := func() ([]Address, error) {
		calls++
		switch {
		case calls == 1:
			return nil, errors.New("netlink busy")
		case calls < 4:
			return []Address{{Interface: "lo", IP: net.ParseIP("127.0.0.1")}}, nil
		default:
			return []Address{{Interface: "wlan0", IP: net.ParseIP("192.168.1.42")}}, nil
		}
	}
	w := NewWaiterWithSource("", time.Millisecond, source, zap.NewNop())

	if _, err := w.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 polls, got %d", calls)
	}
}

func TestWaiter_Timeout(t *testing.T) {
	w := NewWaiterWithSource("", time.Millisecond, staticSource(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestSystemAddresses(t *testing.T) {
	if _, err := SystemAddresses(); err != nil {
		t.Fatalf("SystemAddresses: %v", err)
	}
}
