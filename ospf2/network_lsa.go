package ospf2

import (
	"encoding/binary"
	"fmt"
)

const networkLSAFixedLen = lsaHeaderLen + 4 // NetworkMask.

var _ LSA = &NetworkLSA{}

// A NetworkLSA is an OSPFv2 type 2 Network-LSA as described in RFC2328,
// appendix A.4.3. It is originated only by a segment's Designated Router.
type NetworkLSA struct {
	Header          LSAHeader
	NetworkMask     uint32
	AttachedRouters []ID
}

func (l *NetworkLSA) header() *LSAHeader { return &l.Header }

func (l *NetworkLSA) len() int {
	return networkLSAFixedLen + 4*len(l.AttachedRouters)
}

func (l *NetworkLSA) marshal(b []byte) error {
	l.Header.marshal(b[:lsaHeaderLen])
	n := lsaHeaderLen
	binary.BigEndian.PutUint32(b[n:n+4], l.NetworkMask)
	n += 4

	for _, r := range l.AttachedRouters {
		binary.BigEndian.PutUint32(b[n:n+4], r.uint32())
		n += 4
	}

	return nil
}

func (l *NetworkLSA) unmarshal(b []byte) error {
	if len(b) < networkLSAFixedLen {
		return fmt.Errorf("not enough bytes for NetworkLSA: %d: %w", len(b), errParse)
	}

	l.Header = parseLSAHeader(b[:lsaHeaderLen])
	if l.Header.Type != LSTypeNetwork {
		return fmt.Errorf("not a NetworkLSA: type %d: %w", l.Header.Type, errParse)
	}

	n := lsaHeaderLen
	l.NetworkMask = binary.BigEndian.Uint32(b[n : n+4])
	n += 4

	rest := b[n:]
	if len(rest)%4 != 0 {
		return fmt.Errorf("NetworkLSA attached router list must end on a 4 byte boundary, got %d bytes: %w", len(rest), errParse)
	}

	l.AttachedRouters = make([]ID, 0, len(rest)/4)
	for i := 0; i < len(rest); i += 4 {
		l.AttachedRouters = append(l.AttachedRouters, idFromUint32(binary.BigEndian.Uint32(rest[i:i+4])))
	}

	return nil
}
