package ospf2

import (
	"encoding/binary"
	"fmt"
	"time"
)

const helloLen = 20 // No trailing array of neighbor IDs.

var _ Packet = &Hello{}

// A Hello is an OSPFv2 Hello packet as described in RFC2328, appendix A.3.2.
type Hello struct {
	Header                   Header
	NetworkMask              uint32
	HelloInterval            time.Duration
	Options                  Options
	RouterPriority           uint8
	RouterDeadInterval       time.Duration
	DesignatedRouterID       ID
	BackupDesignatedRouterID ID
	NeighborIDs              []ID
}

func (h *Hello) len() int {
	return headerLen + helloLen + (4 * len(h.NeighborIDs))
}

func (h *Hello) marshal(b []byte) error {
	const n = headerLen
	h.Header.marshal(b[:n], hello, uint16(h.len()))

	binary.BigEndian.PutUint32(b[n:n+4], h.NetworkMask)
	putUint16Seconds(b[n+4:n+6], h.HelloInterval)
	b[n+6] = byte(h.Options)
	b[n+7] = h.RouterPriority
	putUint32Seconds(b[n+8:n+12], h.RouterDeadInterval)
	binary.BigEndian.PutUint32(b[n+12:n+16], h.DesignatedRouterID.uint32())
	binary.BigEndian.PutUint32(b[n+16:n+20], h.BackupDesignatedRouterID.uint32())

	nn := n + helloLen
	for i := range h.NeighborIDs {
		binary.BigEndian.PutUint32(b[nn:nn+4], h.NeighborIDs[i].uint32())
		nn += 4
	}

	return nil
}

func (h *Hello) unmarshal(b []byte) error {
	if l := len(b); l < helloLen {
		return fmt.Errorf("not enough bytes for Hello: %d: %w", l, errParse)
	}
	if l := len(b); l%4 != 0 {
		return fmt.Errorf("Hello packet must end on a 4 byte boundary, got %d bytes: %w", l, errParse)
	}

	h.NetworkMask = binary.BigEndian.Uint32(b[0:4])
	h.HelloInterval = uint16Seconds(b[4:6])
	h.Options = Options(b[6])
	h.RouterPriority = b[7]
	h.RouterDeadInterval = uint32Seconds(b[8:12])
	h.DesignatedRouterID = idFromUint32(binary.BigEndian.Uint32(b[12:16]))
	h.BackupDesignatedRouterID = idFromUint32(binary.BigEndian.Uint32(b[16:20]))

	h.NeighborIDs = make([]ID, 0, len(b[helloLen:])/4)
	for i := helloLen; i < len(b); i += 4 {
		h.NeighborIDs = append(h.NeighborIDs, idFromUint32(binary.BigEndian.Uint32(b[i:i+4])))
	}

	return nil
}

// uint16Seconds interprets big endian uint16 bytes as a number of seconds.
func uint16Seconds(b []byte) time.Duration {
	return time.Duration(binary.BigEndian.Uint16(b)) * time.Second
}

// putUint16Seconds stores d in b as big endian uint16 bytes, rounded to the
// nearest whole second.
func putUint16Seconds(b []byte, d time.Duration) {
	binary.BigEndian.PutUint16(b, uint16(d.Round(time.Second).Seconds()))
}

// uint32Seconds interprets big endian uint32 bytes as a number of seconds.
func uint32Seconds(b []byte) time.Duration {
	return time.Duration(binary.BigEndian.Uint32(b)) * time.Second
}

// putUint32Seconds stores d in b as big endian uint32 bytes, rounded to the
// nearest whole second.
func putUint32Seconds(b []byte, d time.Duration) {
	binary.BigEndian.PutUint32(b, uint32(d.Round(time.Second).Seconds()))
}
