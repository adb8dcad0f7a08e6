package ospf2

import (
	"encoding/binary"
	"fmt"
)

const ddLen = 8 // No trailing array of LSA headers.

// DDFlags are flags which may appear in an OSPFv2 Database Description
// packet as described in RFC2328, appendix A.3.3.
type DDFlags uint8

// Possible DDFlags values.
const (
	MSBit DDFlags = 1 << 0 // I am the master.
	MBit  DDFlags = 1 << 1 // More Database Description packets follow.
	IBit  DDFlags = 1 << 2 // This is the first packet in the sequence.
)

// String returns the string representation of a DDFlags bitmask.
func (f DDFlags) String() string {
	return flagsString(uint(f), []string{
		"MS-bit",
		"M-bit",
		"I-bit",
	})
}

var _ Packet = &DatabaseDescription{}

// A DatabaseDescription is an OSPFv2 Database Description packet as
// described in RFC2328, appendix A.3.3.
type DatabaseDescription struct {
	Header         Header
	InterfaceMTU   uint16
	Options        Options
	Flags          DDFlags
	SequenceNumber uint32
	LSAs           []LSAHeader
}

func (dd *DatabaseDescription) len() int {
	return headerLen + ddLen + (lsaHeaderLen * len(dd.LSAs))
}

func (dd *DatabaseDescription) marshal(b []byte) error {
	const n = headerLen
	dd.Header.marshal(b[:n], databaseDescription, uint16(dd.len()))

	binary.BigEndian.PutUint16(b[n:n+2], dd.InterfaceMTU)
	b[n+2] = byte(dd.Options)
	b[n+3] = byte(dd.Flags)
	binary.BigEndian.PutUint32(b[n+4:n+8], dd.SequenceNumber)

	nn := n + ddLen
	for i := range dd.LSAs {
		dd.LSAs[i].marshal(b[nn : nn+lsaHeaderLen])
		nn += lsaHeaderLen
	}

	return nil
}

func (dd *DatabaseDescription) unmarshal(b []byte) error {
	if l := len(b); l < ddLen {
		return fmt.Errorf("not enough bytes for DatabaseDescription: %d: %w", l, errParse)
	}

	dd.InterfaceMTU = binary.BigEndian.Uint16(b[0:2])
	dd.Options = Options(b[2])
	dd.Flags = DDFlags(b[3])
	dd.SequenceNumber = binary.BigEndian.Uint32(b[4:8])

	rest := b[ddLen:]
	if l := len(rest); l%lsaHeaderLen != 0 {
		return fmt.Errorf("DatabaseDescription packet must end on a %d byte boundary for trailing LSA headers, got %d bytes: %w", lsaHeaderLen, l, errParse)
	}

	n := len(rest) / lsaHeaderLen
	dd.LSAs = make([]LSAHeader, 0, n)
	for i := 0; i < n; i++ {
		start := i * lsaHeaderLen
		dd.LSAs = append(dd.LSAs, parseLSAHeader(rest[start:start+lsaHeaderLen]))
	}

	return nil
}
