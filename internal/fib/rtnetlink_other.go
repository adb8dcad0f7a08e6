//go:build !linux

package fib

import (
	"log/slog"

	"github.com/ospf2d/ospf2d/internal/spf"
	"github.com/ospf2d/ospf2d/ospf2"
)

// RTNetlinkInstaller is unavailable outside Linux; NewRTNetlinkInstaller
// always fails so callers fall back to NoopInstaller.
type RTNetlinkInstaller struct{}

// NewRTNetlinkInstaller always returns errNotImplemented on non-Linux
// platforms, since rtnetlink is a Linux-only netlink protocol family.
func NewRTNetlinkInstaller(ifIndexByAddr map[ospf2.ID]uint32, log *slog.Logger) (*RTNetlinkInstaller, error) {
	return nil, errNotImplemented
}

// Sync implements RouteInstaller.
func (*RTNetlinkInstaller) Sync(entries []spf.RouteEntry) error { return errNotImplemented }

// Close implements RouteInstaller.
func (*RTNetlinkInstaller) Close() error { return nil }
