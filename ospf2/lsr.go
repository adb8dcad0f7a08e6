package ospf2

import (
	"encoding/binary"
	"fmt"
)

var _ Packet = &LinkStateRequest{}

// An LSRequest identifies a single LSA being requested in a
// LinkStateRequest packet, as described in RFC2328, appendix A.3.4.
type LSRequest struct {
	Type              LSType
	LinkStateID       ID
	AdvertisingRouter ID
}

// A LinkStateRequest is an OSPFv2 Link State Request packet as described in
// RFC2328, appendix A.3.4.
type LinkStateRequest struct {
	Header   Header
	Requests []LSRequest
}

func (lsr *LinkStateRequest) len() int {
	return headerLen + (lsaLen * len(lsr.Requests))
}

func (lsr *LinkStateRequest) marshal(b []byte) error {
	const n = headerLen
	lsr.Header.marshal(b[:n], linkStateRequest, uint16(lsr.len()))

	nn := n
	for i := range lsr.Requests {
		binary.BigEndian.PutUint32(b[nn:nn+4], uint32(lsr.Requests[i].Type))
		binary.BigEndian.PutUint32(b[nn+4:nn+8], lsr.Requests[i].LinkStateID.uint32())
		binary.BigEndian.PutUint32(b[nn+8:nn+12], lsr.Requests[i].AdvertisingRouter.uint32())
		nn += lsaLen
	}

	return nil
}

func (lsr *LinkStateRequest) unmarshal(b []byte) error {
	if l := len(b); l%lsaLen != 0 {
		return fmt.Errorf("LinkStateRequest packet must end on a %d byte boundary, got %d bytes: %w", lsaLen, l, errParse)
	}

	n := len(b) / lsaLen
	lsr.Requests = make([]LSRequest, 0, n)
	for i := 0; i < n; i++ {
		start := i * lsaLen
		lsr.Requests = append(lsr.Requests, LSRequest{
			Type:              LSType(binary.BigEndian.Uint32(b[start : start+4])),
			LinkStateID:       idFromUint32(binary.BigEndian.Uint32(b[start+4 : start+8])),
			AdvertisingRouter: idFromUint32(binary.BigEndian.Uint32(b[start+8 : start+12])),
		})
	}

	return nil
}
