package ospf2

import (
	"encoding/binary"
	"fmt"
)

const summaryLSALen = lsaHeaderLen + 8 // NetworkMask + Metric.

var _ LSA = &SummaryLSA{}

// A SummaryLSA is an OSPFv2 type 3 (Summary-LSA, network) or type 4
// (Summary-LSA, ASBR) advertisement, as described in RFC2328, appendix
// A.4.4. The two types share an identical body and differ only in the
// Header's Type field.
type SummaryLSA struct {
	Header      LSAHeader
	NetworkMask uint32
	Metric      uint32
}

func (l *SummaryLSA) header() *LSAHeader { return &l.Header }

func (l *SummaryLSA) len() int { return summaryLSALen }

func (l *SummaryLSA) marshal(b []byte) error {
	l.Header.marshal(b[:lsaHeaderLen])
	n := lsaHeaderLen
	binary.BigEndian.PutUint32(b[n:n+4], l.NetworkMask)
	binary.BigEndian.PutUint32(b[n+4:n+8], l.Metric)
	return nil
}

func (l *SummaryLSA) unmarshal(b []byte) error {
	if len(b) < summaryLSALen {
		return fmt.Errorf("not enough bytes for SummaryLSA: %d: %w", len(b), errParse)
	}

	l.Header = parseLSAHeader(b[:lsaHeaderLen])
	if l.Header.Type != LSTypeSummaryNet && l.Header.Type != LSTypeSummaryASBR {
		return fmt.Errorf("not a SummaryLSA: type %d: %w", l.Header.Type, errParse)
	}

	n := lsaHeaderLen
	l.NetworkMask = binary.BigEndian.Uint32(b[n : n+4])
	l.Metric = binary.BigEndian.Uint32(b[n+4 : n+8])
	return nil
}
