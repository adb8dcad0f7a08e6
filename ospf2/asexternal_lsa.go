package ospf2

import (
	"encoding/binary"
	"fmt"
)

const asExternalLSALen = lsaHeaderLen + 16

var _ LSA = &ASExternalLSA{}

// An ASExternalLSA is an OSPFv2 type 5 AS-External-LSA as described in
// RFC2328, appendix A.4.5. Origination of AS-External-LSAs is out of scope
// for this implementation; the type is still parsed, stored, compared, and
// flooded like any other LSA.
type ASExternalLSA struct {
	Header            LSAHeader
	NetworkMask       uint32
	Metric            uint32
	ForwardingAddress uint32
	ExternalRouteTag  uint32
}

func (l *ASExternalLSA) header() *LSAHeader { return &l.Header }

func (l *ASExternalLSA) len() int { return asExternalLSALen }

func (l *ASExternalLSA) marshal(b []byte) error {
	l.Header.marshal(b[:lsaHeaderLen])
	n := lsaHeaderLen
	binary.BigEndian.PutUint32(b[n:n+4], l.NetworkMask)
	binary.BigEndian.PutUint32(b[n+4:n+8], l.Metric)
	binary.BigEndian.PutUint32(b[n+8:n+12], l.ForwardingAddress)
	binary.BigEndian.PutUint32(b[n+12:n+16], l.ExternalRouteTag)
	return nil
}

func (l *ASExternalLSA) unmarshal(b []byte) error {
	if len(b) < asExternalLSALen {
		return fmt.Errorf("not enough bytes for ASExternalLSA: %d: %w", len(b), errParse)
	}

	l.Header = parseLSAHeader(b[:lsaHeaderLen])
	if l.Header.Type != LSTypeASExternal {
		return fmt.Errorf("not an ASExternalLSA: type %d: %w", l.Header.Type, errParse)
	}

	n := lsaHeaderLen
	l.NetworkMask = binary.BigEndian.Uint32(b[n : n+4])
	l.Metric = binary.BigEndian.Uint32(b[n+4 : n+8])
	l.ForwardingAddress = binary.BigEndian.Uint32(b[n+8 : n+12])
	l.ExternalRouteTag = binary.BigEndian.Uint32(b[n+12 : n+16])
	return nil
}
