package ospf2

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// version is the OSPF version supported by this package (OSPFv2).
	version = 2

	headerLen = 24 // Version through the 8 byte authentication field.
	lsaLen    = 12
)

// Sentinel errors used to differentiate various types of errors in tests.
var (
	errMarshal = errors.New("failed to marshal bytes")
	errParse   = errors.New("failed to parse bytes")
)

// A packetType is the type of an OSPFv2 packet, as described in RFC2328,
// appendix A.3.1.
type packetType uint8

// Possible OSPFv2 packet types.
const (
	hello                    packetType = 1
	databaseDescription      packetType = 2
	linkStateRequest         packetType = 3
	linkStateUpdate          packetType = 4
	linkStateAcknowledgement packetType = 5
)

// An ID is a four byte identifier typically used for OSPFv2 router and/or
// area IDs in dotted-decimal IPv4 format.
type ID [4]byte

func (id ID) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", id[0], id[1], id[2], id[3])
}

// idFromUint32 builds an ID from its big-endian uint32 wire representation.
func idFromUint32(v uint32) ID {
	var id ID
	binary.BigEndian.PutUint32(id[:], v)
	return id
}

// uint32 returns the big-endian uint32 wire representation of an ID.
func (id ID) uint32() uint32 {
	return binary.BigEndian.Uint32(id[:])
}

// Options is a bitmask of OSPFv2 options as described in RFC2328, appendix
// A.2.
type Options uint8

// Possible OSPFv2 options bits.
const (
	// TBit is unused in OSPFv2 but reserved for compatibility.
	TBit Options = 1 << 0
	EBit Options = 1 << 1
	MCBit Options = 1 << 2
	NPBit Options = 1 << 3
	EABit Options = 1 << 4
	DCBit Options = 1 << 5
)

// String returns the string representation of an Options bitmask.
func (o Options) String() string {
	return flagsString(uint(o), []string{
		"T-bit",
		"E-bit",
		"MC-bit",
		"NP-bit",
		"EA-bit",
		"DC-bit",
	})
}

// A Header is the OSPFv2 packet header as described in RFC2328, appendix
// A.3.1. Headers accompany each Packet implementation. Version, packet type,
// and packet length are set automatically when calling MarshalPacket;
// Checksum is likewise computed automatically.
type Header struct {
	RouterID ID
	AreaID   ID
	AuType   uint16
	Auth     uint64
}

// marshal packs a Header's bytes into b while also setting the packet type
// and length. The checksum is left zeroed; callers must compute it over the
// full marshaled packet afterward. It assumes b has allocated enough space
// for a Header to avoid a panic.
func (h *Header) marshal(b []byte, ptyp packetType, plen uint16) {
	b[0] = version
	b[1] = byte(ptyp)
	binary.BigEndian.PutUint16(b[2:4], plen)
	binary.BigEndian.PutUint32(b[4:8], h.RouterID.uint32())
	binary.BigEndian.PutUint32(b[8:12], h.AreaID.uint32())
	// b[12:14] checksum is filled in by MarshalPacket.
	binary.BigEndian.PutUint16(b[14:16], h.AuType)
	binary.BigEndian.PutUint64(b[16:24], h.Auth)
}

// parseHeader parses an OSPFv2 Header, its packet type, and the total
// packet length from bytes.
func parseHeader(b []byte) (Header, packetType, int, error) {
	if l := len(b); l < headerLen {
		return Header{}, 0, 0, fmt.Errorf("not enough bytes for OSPFv2 header: %d: %w", l, errParse)
	}

	if v := b[0]; v != version {
		return Header{}, 0, 0, fmt.Errorf("unrecognized OSPF version: %d: %w", v, errParse)
	}

	h := Header{
		RouterID: idFromUint32(binary.BigEndian.Uint32(b[4:8])),
		AreaID:   idFromUint32(binary.BigEndian.Uint32(b[8:12])),
		AuType:   binary.BigEndian.Uint16(b[14:16]),
		Auth:     binary.BigEndian.Uint64(b[16:24]),
	}

	plen := int(binary.BigEndian.Uint16(b[2:4]))
	if plen < headerLen {
		return Header{}, 0, 0, fmt.Errorf("header packet length %d is too short for a valid packet: %w", plen, errParse)
	}
	if l := len(b); l < plen {
		return Header{}, 0, 0, fmt.Errorf("header packet length is %d bytes but only %d bytes are available: %w",
			plen, l, errParse)
	}

	return h, packetType(b[1]), plen, nil
}

// checksum returns the 16 bit one's-complement checksum of b, with the
// two bytes at the checksum field excluded from the input and the result
// substituted in their place by the caller.
func checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		sum = (sum & 0xffff) + (sum >> 16)
	}
	if n%2 != 0 {
		sum += uint32(b[n-1]) << 8
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// A Packet is an OSPFv2 packet: a Header followed by a type-specific body.
type Packet interface {
	len() int
	marshal(b []byte) error
	unmarshal(b []byte) error
}

// MarshalPacket turns a Packet into OSPFv2 wire bytes, computing the packet
// length and checksum fields automatically. The authentication checksum
// (RFC2328 D.4.3) is not applied; only the plain header/body checksum used
// when AuType is 0 is computed.
func MarshalPacket(p Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("ospf2: cannot marshal nil Packet: %w", errMarshal)
	}

	b := make([]byte, p.len())
	if err := p.marshal(b); err != nil {
		return nil, fmt.Errorf("ospf2: failed to marshal Packet: %w", err)
	}

	// Checksum excludes the 64 bit authentication field per RFC2328
	// appendix D, but includes everything else including the header.
	sum := checksum(append(append([]byte{}, b[:16]...), b[24:]...))
	binary.BigEndian.PutUint16(b[12:14], sum)

	return b, nil
}

// ParsePacket parses an OSPFv2 Header and type-specific body from bytes.
func ParsePacket(b []byte) (Packet, error) {
	h, ptyp, plen, err := parseHeader(b)
	if err != nil {
		return nil, fmt.Errorf("ospf2: failed to parse Header: %w", err)
	}

	var p Packet
	switch ptyp {
	case hello:
		p = &Hello{Header: h}
	case databaseDescription:
		p = &DatabaseDescription{Header: h}
	case linkStateRequest:
		p = &LinkStateRequest{Header: h}
	case linkStateUpdate:
		p = &LinkStateUpdate{Header: h}
	case linkStateAcknowledgement:
		p = &LinkStateAcknowledgement{Header: h}
	default:
		return nil, fmt.Errorf("ospf2: parsing not implemented packet type: %d", ptyp)
	}

	if err := p.unmarshal(b[headerLen:plen]); err != nil {
		return nil, fmt.Errorf("ospf2: failed to parse Packet: %w", err)
	}

	return p, nil
}

// flagsString generates a pretty-printed flags bitmask using the input value
// and sequence of names.
func flagsString(f uint, names []string) string {
	var s string
	left := f
	for i, name := range names {
		if f&(1<<uint(i)) != 0 {
			if s != "" {
				s += "|"
			}

			s += name

			left ^= (1 << uint(i))
		}
	}

	if s == "" && left == 0 {
		s = "0"
	}

	if left > 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("%#x", left)
	}

	return s
}
