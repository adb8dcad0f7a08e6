package ospf2

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// fuzz parses b1 as an OSPFv2 Packet, marshals the result, parses those
// bytes again, and verifies the two parsed values are identical. It panics
// on any mismatch so it can be driven by go test -fuzz or an external fuzzer
// harness; tests call it directly, so a mismatch panics the test.
func fuzz(b1 []byte) int {
	p1, err := ParsePacket(b1)
	if err != nil {
		return 0
	}

	b2, err := MarshalPacket(p1)
	if err != nil {
		panicf("failed to marshal Packet: %v", err)
	}

	p2, err := ParsePacket(b2)
	if err != nil {
		panicf("failed to parse marshaled Packet bytes: %v", err)
	}

	if diff := cmp.Diff(p1, p2); diff != "" {
		panicf("fuzz: Packet mismatch (-want +got):\n%s", diff)
	}

	return 1
}

func panicf(format string, a ...interface{}) {
	panic(fmt.Sprintf(format, a...))
}
