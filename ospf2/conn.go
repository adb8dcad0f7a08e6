package ospf2

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Fixed IP header parameters for Conn use.
const ttl = 1

var (
	// AllSPFRouters is the IPv4 multicast group address that all routers
	// running OSPFv2 must participate in.
	AllSPFRouters = &net.IPAddr{IP: net.IPv4(224, 0, 0, 5)}

	// AllDRouters is the IPv4 multicast group address that the Designated
	// Router and Backup Designated Router running OSPFv2 must participate in.
	AllDRouters = &net.IPAddr{IP: net.IPv4(224, 0, 0, 6)}
)

// A Conn can send and receive OSPFv2 packets which implement the Packet
// interface, over IP protocol number 89 on a single network interface.
type Conn struct {
	c      *ipv4.PacketConn
	ifi    *net.Interface
	groups []*net.IPAddr
}

// Listen creates a *Conn bound to the specified network interface.
func Listen(ifi *net.Interface) (*Conn, error) {
	// IP protocol number 89 is OSPF.
	conn, err := net.ListenPacket("ip4:89", "0.0.0.0")
	if err != nil {
		return nil, err
	}
	c := ipv4.NewPacketConn(conn)

	if err := c.SetControlMessage(ipv4.FlagSrc|ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		return nil, err
	}

	if err := c.SetTTL(ttl); err != nil {
		return nil, err
	}
	if err := c.SetMulticastTTL(ttl); err != nil {
		return nil, err
	}

	if err := c.SetMulticastInterface(ifi); err != nil {
		return nil, err
	}

	// Join the appropriate multicast groups. Point-to-point links have no
	// DR/BDR and can skip joining AllDRouters.
	groups := []*net.IPAddr{AllSPFRouters}
	if ifi.Flags&net.FlagPointToPoint == 0 {
		groups = append(groups, AllDRouters)
	}

	for _, g := range groups {
		if err := c.JoinGroup(ifi, g); err != nil {
			return nil, err
		}
	}

	// Don't read our own multicast packets during concurrent read/write.
	if err := c.SetMulticastLoopback(false); err != nil {
		return nil, err
	}

	return &Conn{
		c:      c,
		ifi:    ifi,
		groups: groups,
	}, nil
}

// Close closes the Conn's underlying network connection.
func (c *Conn) Close() error {
	for _, g := range c.groups {
		if err := c.c.LeaveGroup(c.ifi, g); err != nil {
			return err
		}
	}

	return c.c.Close()
}

// SetReadDeadline sets the read deadline associated with the Conn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// ReadFrom reads a single OSPFv2 packet and returns a Packet along with its
// source address. ReadFrom blocks until a deadline elapses or a valid OSPFv2
// packet is read; malformed datagrams are discarded and reading continues.
func (c *Conn) ReadFrom() (Packet, *net.IPAddr, error) {
	b := make([]byte, c.ifi.MTU)
	for {
		n, _, src, err := c.c.ReadFrom(b)
		if err != nil {
			return nil, nil, err
		}

		p, err := ParsePacket(b[:n])
		if err != nil {
			// Assume invalid OSPFv2 data, keep reading.
			continue
		}

		addr, ok := src.(*net.IPAddr)
		if !ok {
			continue
		}

		return p, addr, nil
	}
}

// WriteTo writes a single OSPFv2 Packet to the specified destination address
// or multicast group.
func (c *Conn) WriteTo(p Packet, dst *net.IPAddr) error {
	b, err := MarshalPacket(p)
	if err != nil {
		return err
	}

	_, err = c.c.WriteTo(b, nil, dst)
	return err
}
