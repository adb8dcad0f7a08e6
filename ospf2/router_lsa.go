package ospf2

import (
	"encoding/binary"
	"fmt"
)

const (
	routerLSAFixedLen = lsaHeaderLen + 4 // Flags + NumLinks.
	routerLinkLen     = 12
	routerLinkTOSLen  = 4
)

var _ LSA = &RouterLSA{}

// RouterLSA flag bits, as described in RFC2328, appendix A.4.2.
const (
	RouterFlagVirtual  uint16 = 1 << 2
	RouterFlagExternal uint16 = 1 << 1
	RouterFlagBorder   uint16 = 1 << 0
)

// A RouterLSA is an OSPFv2 type 1 Router-LSA as described in RFC2328,
// appendix A.4.2.
type RouterLSA struct {
	Header LSAHeader
	Flags  uint16
	Links  []RouterLink
}

// A RouterLink is a single link described within a RouterLSA.
type RouterLink struct {
	LinkID   ID
	LinkData uint32
	Type     LinkType
	Metric   uint16

	// TOS carries any additional type-of-service metrics attached to the
	// link. This implementation never originates a non-empty TOS list but
	// parses and re-encodes one present on a received LSA unchanged.
	TOS []RouterLinkTOS
}

// A RouterLinkTOS is a single additional type-of-service metric for a
// RouterLink.
type RouterLinkTOS struct {
	TOS      uint8
	Reserved uint8
	Metric   uint16
}

func (l *RouterLSA) header() *LSAHeader { return &l.Header }

func (l *RouterLSA) len() int {
	n := routerLSAFixedLen
	for _, link := range l.Links {
		n += routerLinkLen + routerLinkTOSLen*len(link.TOS)
	}
	return n
}

func (l *RouterLSA) marshal(b []byte) error {
	l.Header.marshal(b[:lsaHeaderLen])
	n := lsaHeaderLen
	binary.BigEndian.PutUint16(b[n:n+2], l.Flags)
	binary.BigEndian.PutUint16(b[n+2:n+4], uint16(len(l.Links)))
	n += 4

	for _, link := range l.Links {
		binary.BigEndian.PutUint32(b[n:n+4], link.LinkID.uint32())
		binary.BigEndian.PutUint32(b[n+4:n+8], link.LinkData)
		b[n+8] = byte(link.Type)
		b[n+9] = byte(len(link.TOS))
		binary.BigEndian.PutUint16(b[n+10:n+12], link.Metric)
		n += routerLinkLen

		for _, tos := range link.TOS {
			b[n] = tos.TOS
			b[n+1] = tos.Reserved
			binary.BigEndian.PutUint16(b[n+2:n+4], tos.Metric)
			n += routerLinkTOSLen
		}
	}

	return nil
}

func (l *RouterLSA) unmarshal(b []byte) error {
	if len(b) < routerLSAFixedLen {
		return fmt.Errorf("not enough bytes for RouterLSA: %d: %w", len(b), errParse)
	}

	l.Header = parseLSAHeader(b[:lsaHeaderLen])
	if l.Header.Type != LSTypeRouter {
		return fmt.Errorf("not a RouterLSA: type %d: %w", l.Header.Type, errParse)
	}

	n := lsaHeaderLen
	l.Flags = binary.BigEndian.Uint16(b[n : n+2])
	numLinks := int(binary.BigEndian.Uint16(b[n+2 : n+4]))
	n += 4

	l.Links = make([]RouterLink, 0, numLinks)
	for i := 0; i < numLinks; i++ {
		if n+routerLinkLen > len(b) {
			return fmt.Errorf("not enough bytes for RouterLink %d: %w", i, errParse)
		}

		link := RouterLink{
			LinkID:   idFromUint32(binary.BigEndian.Uint32(b[n : n+4])),
			LinkData: binary.BigEndian.Uint32(b[n+4 : n+8]),
			Type:     LinkType(b[n+8]),
			Metric:   binary.BigEndian.Uint16(b[n+10 : n+12]),
		}
		tosNum := int(b[n+9])
		n += routerLinkLen

		link.TOS = make([]RouterLinkTOS, 0, tosNum)
		for j := 0; j < tosNum; j++ {
			if n+routerLinkTOSLen > len(b) {
				return fmt.Errorf("not enough bytes for RouterLink %d TOS %d: %w", i, j, errParse)
			}
			link.TOS = append(link.TOS, RouterLinkTOS{
				TOS:      b[n],
				Reserved: b[n+1],
				Metric:   binary.BigEndian.Uint16(b[n+2 : n+4]),
			})
			n += routerLinkTOSLen
		}

		l.Links = append(l.Links, link)
	}

	return nil
}
