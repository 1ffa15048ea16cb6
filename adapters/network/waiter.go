package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 500 * time.Millisecond

// Address is an IP address assigned to a local interface
type Address struct {
	Interface string
	IP        net.IP
}

// AddressSource lists the addresses of the local interfaces that are up
type AddressSource func() ([]Address, error)

// Waiter blocks until the device is associated with a network
type Waiter struct {
	iface  string
	poll   time.Duration
	source AddressSource
	logger *zap.Logger
}

// NewWaiter waits on iface, or on any non-loopback interface when iface is empty
func NewWaiter(iface string, poll time.Duration, logger *zap.Logger) *Waiter {
	return NewWaiterWithSource(iface, poll, SystemAddresses, logger)
}

// NewWaiterWithSource is NewWaiter with a custom address source
func NewWaiterWithSource(iface string, poll time.Duration, source AddressSource, logger *zap.Logger) *Waiter {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Waiter{iface: iface, poll: poll, source: source, logger: logger}
}

// Wait polls until a usable address shows up or ctx is done
func (w *Waiter) Wait(ctx context.Context) (Address, error) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		addr, ok, err := w.lookup()
		if err != nil {
			w.logger.Warn("Failed to list network interfaces", zap.Error(err))
		}
		if ok {
			w.logger.Info("Network online",
				zap.String("interface", addr.Interface),
				zap.String("ip", addr.IP.String()),
				zap.Int("attempts", attempts))
			return addr, nil
		}

		select {
		case <-ctx.Done():
			return Address{}, fmt.Errorf("network not associated after %d attempts: %w", attempts, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *Waiter) lookup() (Address, bool, error) {
	addrs, err := w.source()
	if err != nil {
		return Address{}, false, err
	}
	for _, a := range addrs {
		if w.iface != "" && a.Interface != w.iface {
			continue
		}
		if a.IP == nil || a.IP.IsLoopback() || a.IP.IsUnspecified() {
			continue
		}
		// Link-local IPv6 is assigned before any network is joined.
		if a.IP.To4() == nil && a.IP.IsLinkLocalUnicast() {
			continue
		}
		return a, true, nil
	}
	return Address{}, false, nil
}

// SystemAddresses reads the addresses of the interfaces that are up
func SystemAddresses() ([]Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Address
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				out = append(out, Address{Interface: iface.Name, IP: v.IP})
			case *net.IPAddr:
				out = append(out, Address{Interface: iface.Name, IP: v.IP})
			}
		}
	}
	return out, nil
}
