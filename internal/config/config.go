// Package config holds the static, immutable-after-construction
// configuration for an OSPFv2 router instance and the protocol constants
// from RFC2328 that govern timing and aging.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ospf2d/ospf2d/ospf2"
)

// Protocol constants from RFC2328, sections 13 and C.1.
const (
	LSRefreshTime  = 1800 * time.Second
	MinLSInterval  = 5 * time.Second
	MinLSArrival   = 1 * time.Second
	MaxAge         = 3600 * time.Second
	MaxAgeDiff     = 900 * time.Second
	LSInfinity     = 0xffffff
	InitialSeqNum  = 0x80000001
	MaxSeqNum      = 0x7fffffff
)

// MaxAgeSeconds and MaxAgeDiffSeconds are the above constants expressed in
// whole seconds, the unit CompareLSA takes them in (LSAHeader.Age itself is
// a time.Duration, divided by time.Second before comparison).
const (
	MaxAgeSeconds     = uint16(MaxAge / time.Second)
	MaxAgeDiffSeconds = uint16(MaxAgeDiff / time.Second)
)

// Config is the static configuration of a single OSPFv2 router instance.
// A Config is never mutated after being handed to the router core; runtime
// per-interface or per-neighbor state lives elsewhere.
type Config struct {
	RouterID ospf2.ID
	AreaID   ospf2.ID

	// HelloInterval, DeadInterval, RxmtInterval, and InfTransDelay are the
	// defaults applied to every interface unless overridden in Interfaces.
	HelloInterval  time.Duration
	DeadInterval   time.Duration
	RxmtInterval   time.Duration
	InfTransDelay  time.Duration
	RouterPriority uint8
	Options        ospf2.Options
	DefaultMTU     uint16

	// Interfaces lists the network interface names this router should run
	// OSPF on. An empty list means every interface discovered at startup
	// that is up, non-loopback, has an IPv4 address, and is either
	// point-to-point or multicast-capable.
	Interfaces []InterfaceConfig
}

// InterfaceConfig overrides Config's defaults for a single named interface.
type InterfaceConfig struct {
	Name           string
	HelloInterval  time.Duration
	DeadInterval   time.Duration
	RxmtInterval   time.Duration
	InfTransDelay  time.Duration
	RouterPriority uint8
}

// Default returns the reference implementation's default Config.
func Default() Config {
	return Config{
		RouterID:       [4]byte{192, 168, 2, 2},
		AreaID:         [4]byte{0, 0, 0, 0},
		HelloInterval:  10 * time.Second,
		DeadInterval:   40 * time.Second,
		RxmtInterval:   5 * time.Second,
		InfTransDelay:  1 * time.Second,
		RouterPriority: 1,
		Options:        ospf2.EBit,
		DefaultMTU:     1500,
	}
}

// fileConfig mirrors Config's fields using plain, TOML-friendly types (dotted
// IPv4 strings instead of ospf2.ID, integer seconds instead of
// time.Duration).
type fileConfig struct {
	RouterID       string
	AreaID         string
	HelloInterval  int
	DeadInterval   int
	RxmtInterval   int
	InfTransDelay  int
	RouterPriority uint8
	DefaultMTU     uint16
	Interfaces     []fileInterfaceConfig
}

type fileInterfaceConfig struct {
	Name           string
	HelloInterval  int
	DeadInterval   int
	RxmtInterval   int
	InfTransDelay  int
	RouterPriority uint8
}

// LoadFile parses a TOML configuration file into a Config, starting from
// Default() for any field the file omits. This is a convenience for running
// the daemon from a static file; it is not a command line interface.
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %q: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse %q: %w", path, err)
	}

	c := Default()

	if fc.RouterID != "" {
		id, err := parseDottedID(fc.RouterID)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid router_id: %w", err)
		}
		c.RouterID = id
	}
	if fc.AreaID != "" {
		id, err := parseDottedID(fc.AreaID)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid area_id: %w", err)
		}
		c.AreaID = id
	}
	if fc.HelloInterval != 0 {
		c.HelloInterval = time.Duration(fc.HelloInterval) * time.Second
	}
	if fc.DeadInterval != 0 {
		c.DeadInterval = time.Duration(fc.DeadInterval) * time.Second
	}
	if fc.RxmtInterval != 0 {
		c.RxmtInterval = time.Duration(fc.RxmtInterval) * time.Second
	}
	if fc.InfTransDelay != 0 {
		c.InfTransDelay = time.Duration(fc.InfTransDelay) * time.Second
	}
	if fc.RouterPriority != 0 {
		c.RouterPriority = fc.RouterPriority
	}
	if fc.DefaultMTU != 0 {
		c.DefaultMTU = fc.DefaultMTU
	}

	for _, fi := range fc.Interfaces {
		c.Interfaces = append(c.Interfaces, InterfaceConfig{
			Name:           fi.Name,
			HelloInterval:  time.Duration(fi.HelloInterval) * time.Second,
			DeadInterval:   time.Duration(fi.DeadInterval) * time.Second,
			RxmtInterval:   time.Duration(fi.RxmtInterval) * time.Second,
			InfTransDelay:  time.Duration(fi.InfTransDelay) * time.Second,
			RouterPriority: fi.RouterPriority,
		})
	}

	return c, nil
}

func parseDottedID(s string) (ospf2.ID, error) {
	var a, b, c, d uint8
	if _, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); err != nil {
		return ospf2.ID{}, fmt.Errorf("%q is not a dotted-decimal address: %w", s, err)
	}
	return ospf2.ID{a, b, c, d}, nil
}
