package ospf2

import "fmt"

func (t packetType) String() string {
	switch t {
	case hello:
		return "Hello"
	case databaseDescription:
		return "DatabaseDescription"
	case linkStateRequest:
		return "LinkStateRequest"
	case linkStateUpdate:
		return "LinkStateUpdate"
	case linkStateAcknowledgement:
		return "LinkStateAcknowledgement"
	default:
		return fmt.Sprintf("packetType(%d)", uint8(t))
	}
}

func (t LinkType) String() string {
	switch t {
	case LinkPointToPoint:
		return "PointToPoint"
	case LinkTransit:
		return "Transit"
	case LinkStub:
		return "Stub"
	case LinkVirtual:
		return "Virtual"
	default:
		return fmt.Sprintf("LinkType(%d)", uint8(t))
	}
}

func (c LSAComparison) String() string {
	switch c {
	case LSASame:
		return "Same"
	case LSANewer:
		return "Newer"
	case LSAOlder:
		return "Older"
	default:
		return fmt.Sprintf("LSAComparison(%d)", uint8(c))
	}
}
