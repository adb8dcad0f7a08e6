package ospf2

import (
	"encoding/binary"
	"fmt"
)

var _ Packet = &LinkStateUpdate{}

// A LinkStateUpdate is an OSPFv2 Link State Update packet as described in
// RFC2328, appendix A.3.5.
type LinkStateUpdate struct {
	Header Header
	LSAs   []LSA
}

func (lsu *LinkStateUpdate) len() int {
	total := headerLen + 4
	for _, l := range lsu.LSAs {
		total += l.len()
	}
	return total
}

func (lsu *LinkStateUpdate) marshal(b []byte) error {
	const n = headerLen
	lsu.Header.marshal(b[:n], linkStateUpdate, uint16(lsu.len()))

	binary.BigEndian.PutUint32(b[n:n+4], uint32(len(lsu.LSAs)))

	nn := n + 4
	for _, l := range lsu.LSAs {
		ll := l.len()
		if err := l.marshal(b[nn : nn+ll]); err != nil {
			return err
		}
		nn += ll
	}

	return nil
}

func (lsu *LinkStateUpdate) unmarshal(b []byte) error {
	if l := len(b); l < 4 {
		return fmt.Errorf("not enough bytes for LinkStateUpdate: %d: %w", l, errParse)
	}

	count := int(binary.BigEndian.Uint32(b[0:4]))
	rest := b[4:]

	lsu.LSAs = make([]LSA, 0, count)
	off := 0
	for i := 0; i < count; i++ {
		if off+lsaHeaderLen > len(rest) {
			return fmt.Errorf("not enough bytes for LSA %d header: %w", i, errParse)
		}

		hdr := parseLSAHeader(rest[off : off+lsaHeaderLen])
		if int(hdr.Length) < lsaHeaderLen || off+int(hdr.Length) > len(rest) {
			return fmt.Errorf("invalid LSA %d length %d: %w", i, hdr.Length, errParse)
		}

		lsa, err := parseLSA(rest[off : off+int(hdr.Length)])
		if err != nil {
			return fmt.Errorf("failed to parse LSA %d: %w", i, err)
		}

		lsu.LSAs = append(lsu.LSAs, lsa)
		off += int(hdr.Length)
	}

	return nil
}
