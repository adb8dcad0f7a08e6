package ospf2

import (
	"encoding/binary"
	"fmt"
	"time"
)

const lsaHeaderLen = 20

// An LSType is the type of an OSPFv2 Link State Advertisement as described
// in RFC2328, section 12.1.
type LSType uint32

// Possible LSType values. LSType is a full uint32 in LSRequest packets for
// wire alignment, but only the low byte is significant in an LSAHeader.
const (
	LSTypeRouter        LSType = 1
	LSTypeNetwork       LSType = 2
	LSTypeSummaryNet    LSType = 3
	LSTypeSummaryASBR   LSType = 4
	LSTypeASExternal    LSType = 5
)

func (t LSType) String() string {
	switch t {
	case LSTypeRouter:
		return "RouterLSA"
	case LSTypeNetwork:
		return "NetworkLSA"
	case LSTypeSummaryNet:
		return "SummaryNetLSA"
	case LSTypeSummaryASBR:
		return "SummaryASBRLSA"
	case LSTypeASExternal:
		return "ASExternalLSA"
	default:
		return fmt.Sprintf("LSType(%d)", uint32(t))
	}
}

// A LinkType describes the kind of connection a RouterLink represents, as
// described in RFC2328, section A.4.2.
type LinkType uint8

// Possible LinkType values.
const (
	LinkPointToPoint LinkType = 1
	LinkTransit      LinkType = 2
	LinkStub         LinkType = 3
	LinkVirtual      LinkType = 4
)

// An LSAHeader is the header common to every OSPFv2 Link State Advertisement
// as described in RFC2328, appendix A.4.1.
type LSAHeader struct {
	Age               time.Duration
	Options           Options
	Type              LSType
	LinkStateID       ID
	AdvertisingRouter ID
	SequenceNumber    uint32
	Checksum          uint16
	Length            uint16
}

// marshal stores the LSAHeader bytes into b. It assumes b has allocated
// enough space for an LSAHeader to avoid a panic.
func (h LSAHeader) marshal(b []byte) {
	putUint16Seconds(b[0:2], h.Age)
	b[2] = byte(h.Options)
	b[3] = byte(h.Type)
	binary.BigEndian.PutUint32(b[4:8], h.LinkStateID.uint32())
	binary.BigEndian.PutUint32(b[8:12], h.AdvertisingRouter.uint32())
	binary.BigEndian.PutUint32(b[12:16], h.SequenceNumber)
	binary.BigEndian.PutUint16(b[16:18], h.Checksum)
	binary.BigEndian.PutUint16(b[18:20], h.Length)
}

// parseLSAHeader unpacks an LSAHeader from a byte slice.
func parseLSAHeader(b []byte) LSAHeader {
	return LSAHeader{
		Age:               uint16Seconds(b[0:2]),
		Options:           Options(b[2]),
		Type:              LSType(b[3]),
		LinkStateID:       idFromUint32(binary.BigEndian.Uint32(b[4:8])),
		AdvertisingRouter: idFromUint32(binary.BigEndian.Uint32(b[8:12])),
		SequenceNumber:    binary.BigEndian.Uint32(b[12:16]),
		Checksum:          binary.BigEndian.Uint16(b[16:18]),
		Length:            binary.BigEndian.Uint16(b[18:20]),
	}
}

// SameIdentity reports whether h and other identify the same LSA instance
// (type, link state ID, and advertising router), independent of sequence
// number, age, or checksum.
func (h LSAHeader) SameIdentity(other LSAHeader) bool {
	return h.Type == other.Type &&
		h.LinkStateID == other.LinkStateID &&
		h.AdvertisingRouter == other.AdvertisingRouter
}

// An LSA is an OSPFv2 Link State Advertisement as described in RFC2328,
// section 12.
type LSA interface {
	header() *LSAHeader
	len() int
	marshal(b []byte) error
}

// HeaderOf returns a copy of the LSA's common header.
func HeaderOf(l LSA) LSAHeader { return *l.header() }

// parseLSA parses a single self-describing LSA (header.Length bytes) and
// dispatches to the appropriate concrete type based on the LSAHeader's Type
// field, which sits at byte offset 3.
func parseLSA(b []byte) (LSA, error) {
	if len(b) < lsaHeaderLen {
		return nil, fmt.Errorf("not enough bytes for LSA header: %d: %w", len(b), errParse)
	}

	switch LSType(b[3]) {
	case LSTypeRouter:
		l := &RouterLSA{}
		if err := l.unmarshal(b); err != nil {
			return nil, err
		}
		return l, nil
	case LSTypeNetwork:
		l := &NetworkLSA{}
		if err := l.unmarshal(b); err != nil {
			return nil, err
		}
		return l, nil
	case LSTypeSummaryNet, LSTypeSummaryASBR:
		l := &SummaryLSA{}
		if err := l.unmarshal(b); err != nil {
			return nil, err
		}
		return l, nil
	case LSTypeASExternal:
		l := &ASExternalLSA{}
		if err := l.unmarshal(b); err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("ospf2: unrecognized LSA type %d: %w", b[3], errParse)
	}
}

// LSAComparison describes the relative freshness of two LSA instances
// identifying the same link state, per RFC2328, section 13.1.
type LSAComparison uint8

// Possible LSAComparison values.
const (
	LSASame LSAComparison = iota
	LSANewer
	LSAOlder
)

// CompareLSA reports whether a is the Same as, Newer than, or Older than b,
// which must identify the same LSA instance (SameIdentity(a, b) == true).
// maxAge and maxAgeDiff are the configured MaxAge and MaxAgeDiff constants,
// in seconds.
func CompareLSA(a, b LSA, maxAge, maxAgeDiff uint16) LSAComparison {
	ah, bh := a.header(), b.header()

	if ah.SequenceNumber != bh.SequenceNumber {
		if int32(ah.SequenceNumber) > int32(bh.SequenceNumber) {
			return LSANewer
		}
		return LSAOlder
	}

	if ah.Checksum != bh.Checksum {
		if ah.Checksum > bh.Checksum {
			return LSANewer
		}
		return LSAOlder
	}

	aAge := uint16(ah.Age / time.Second)
	bAge := uint16(bh.Age / time.Second)

	switch {
	case aAge == bAge:
		return LSASame
	case aAge == maxAge:
		return LSANewer
	case bAge == maxAge:
		return LSAOlder
	}

	diff := int(aAge) - int(bAge)
	if diff < 0 {
		diff = -diff
	}
	if uint16(diff) > maxAgeDiff {
		if aAge < bAge {
			return LSANewer
		}
		return LSAOlder
	}

	return LSASame
}

// fletcherSum runs the running Fletcher-16 accumulation over data, treating
// the two bytes at offset as zero while accumulating c1. Pass a negative
// offset to accumulate every byte of data unmodified.
func fletcherSum(data []byte, offset int) (c0, c1 int32) {
	n := len(data)

	for i := 0; i < n; i++ {
		if offset >= 0 && (i == offset || i == offset+1) {
			c1 += c0
			c0 %= 255
			c1 %= 255
			continue
		}
		c0 += int32(data[i])
		c1 += c0
		c0 %= 255
		c1 %= 255
	}

	c0 %= 255
	c1 %= 255
	return c0, c1
}

// fletcher16 computes the RFC1008 Fletcher checksum of data, treating the
// two bytes at the given offset (the checksum field itself) as zero while
// accumulating c1, matching the algorithm OSPF uses to checksum LSAs
// (RFC2328, appendix E). The returned value, when stored at offset in data,
// makes a subsequent checksum of data evaluate to zero.
func fletcher16(data []byte, offset int) uint16 {
	c0, c1 := fletcherSum(data, offset)
	n := len(data)

	mul := int32(n-offset) * c0
	x := mul - c0 - c1
	y := c1 - mul - 1

	if y >= 0 {
		y++
	}
	if x < 0 {
		x--
	}

	x %= 255
	y %= 255

	if x == 0 {
		x = 255
	}
	if y == 0 {
		y = 255
	}

	y &= 0xff

	return uint16(x<<8) | uint16(y)
}

// SetChecksumLength encodes l, fills in its header's Length field from the
// encoded size, then computes and fills in the header's Checksum field using
// the Fletcher-16 algorithm over every byte except the two byte Age field at
// the start of the LSA, per RFC2328, appendix E.
func SetChecksumLength(l LSA) error {
	h := l.header()
	h.Length = uint16(l.len())

	b := make([]byte, h.Length)
	if err := l.marshal(b); err != nil {
		return err
	}

	// Skip the 2 byte Age field; checksum offset of 14 is the position of
	// the Checksum field within the remaining bytes (16 - 2).
	h.Checksum = fletcher16(b[2:], 14)
	return nil
}

// VerifyChecksum reports whether l's current Checksum field is a valid
// Fletcher-16 checksum over l's encoded form, per RFC2328, appendix E. Unlike
// SetChecksumLength, it accumulates every byte (including the Checksum field
// itself, as received) except the Age field; a correctly checksummed LSA
// drives both running sums to zero.
func VerifyChecksum(l LSA) bool {
	h := l.header()
	b := make([]byte, h.Length)
	if err := l.marshal(b); err != nil {
		return false
	}

	c0, c1 := fletcherSum(b[2:], -1)
	return c0 == 0 && c1 == 0
}
