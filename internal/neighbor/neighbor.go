// Package neighbor implements the OSPFv2 neighbor state machine described in
// RFC2328, section 10: the per-adjacency lifecycle from first Hello contact
// through Database Exchange to full synchronization.
package neighbor

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ospf2d/ospf2d/internal/timer"
	"github.com/ospf2d/ospf2d/ospf2"
)

// State is a neighbor's position in the adjacency state machine.
type State uint8

// Possible neighbor states, in RFC2328, section 10.1 order.
const (
	Down State = iota
	Attempt
	Init
	TwoWay
	ExStart
	Exchange
	Loading
	Full
)

func (s State) String() string {
	switch s {
	case Down:
		return "Down"
	case Attempt:
		return "Attempt"
	case Init:
		return "Init"
	case TwoWay:
		return "TwoWay"
	case ExStart:
		return "ExStart"
	case Exchange:
		return "Exchange"
	case Loading:
		return "Loading"
	case Full:
		return "Full"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// AllStates returns every neighbor FSM state, in ascending order.
func AllStates() []State {
	return []State{Down, Attempt, Init, TwoWay, ExStart, Exchange, Loading, Full}
}

// LowerThanInit reports whether s precedes Init (Down or Attempt).
func (s State) LowerThanInit() bool { return s == Down || s == Attempt }

// HigherThanTwoWay reports whether s follows TwoWay (ExStart and beyond).
func (s State) HigherThanTwoWay() bool {
	return s == ExStart || s == Exchange || s == Loading || s == Full
}

// HasTwoWayComm reports whether s implies at least bidirectional Hello
// contact has been established (everything at or beyond TwoWay).
func (s State) HasTwoWayComm() bool {
	return s != Down && s != Attempt && s != Init
}

// Event is an input to the neighbor state machine, as described in RFC2328,
// section 10.2.
type Event uint8

// Possible Event values.
const (
	EventStart Event = iota
	EventHelloReceived
	EventOneWayReceived
	EventTwoWayReceived
	EventNegotiationDone
	EventExchangeDone
	EventBadLSReq
	EventLoadingDone
	EventAdjOK
	EventSeqNumberMismatch
	EventSeqNumberMatch
	EventKillNbr
	EventInactivityTimer
	EventLLDown
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "Start"
	case EventHelloReceived:
		return "HelloReceived"
	case EventOneWayReceived:
		return "OneWayReceived"
	case EventTwoWayReceived:
		return "TwoWayReceived"
	case EventNegotiationDone:
		return "NegotiationDone"
	case EventExchangeDone:
		return "ExchangeDone"
	case EventBadLSReq:
		return "BadLSReq"
	case EventLoadingDone:
		return "LoadingDone"
	case EventAdjOK:
		return "AdjOK"
	case EventSeqNumberMismatch:
		return "SeqNumberMismatch"
	case EventSeqNumberMatch:
		return "SeqNumberMatch"
	case EventKillNbr:
		return "KillNbr"
	case EventInactivityTimer:
		return "InactivityTimer"
	case EventLLDown:
		return "LLDown"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// A Neighbor is a single OSPFv2 adjacency as seen from one of a router's
// interfaces.
type Neighbor struct {
	State State

	InactivityTimer  *timer.Timer
	ExStartRxmtTimer *timer.Timer
	ExchangeRxmtTimer *timer.Timer
	LSRRxmtTimer     *timer.Timer

	IsMaster       bool
	DDSequence     uint32
	LastReceivedDD *ospf2.DatabaseDescription
	LastSentDD     *SentDD

	ID       ospf2.ID
	Priority uint8
	IP       net.IP
	Options  ospf2.Options
	DR       net.IP
	BDR      net.IP

	// LSARetransmission holds LSAs sent to this neighbor awaiting
	// acknowledgment; DBSummary holds the remaining database summary still
	// to be described during Exchange; LinkStateRequest holds LSAs this
	// neighbor's database summary showed were missing or stale locally.
	LSARetransmission []ospf2.LSAHeader
	DBSummary         []ospf2.LSAHeader
	LinkStateRequest  []ospf2.LSAHeader

	log *slog.Logger
}

// SentDD records the parameters of the last Database Description packet
// sent to this neighbor, so it can be retransmitted verbatim if the
// retransmission timer expires before an acknowledgment-bearing reply
// arrives.
type SentDD struct {
	Flags      ospf2.DDFlags
	Sequence   uint32
	LSAHeaders []ospf2.LSAHeader
}

// New creates a Neighbor discovered via hello, which carries the peer's
// advertised router ID, priority, options, and declared DR/BDR.
func New(hello *ospf2.Hello, routerID ospf2.ID, ip net.IP, deadInterval, rxmtInterval time.Duration, log *slog.Logger) *Neighbor {
	if log == nil {
		log = slog.Default()
	}
	return &Neighbor{
		State:             Down,
		InactivityTimer:   timer.New(deadInterval),
		ExStartRxmtTimer:  timer.New(rxmtInterval),
		ExchangeRxmtTimer: timer.New(rxmtInterval),
		LSRRxmtTimer:      timer.New(rxmtInterval),
		ID:                routerID,
		Priority:          hello.RouterPriority,
		IP:                ip,
		Options:           hello.Options,
		DR:                idToIP(hello.DesignatedRouterID),
		BDR:               idToIP(hello.BackupDesignatedRouterID),
		log:               log.With("neighbor", ip.String()),
	}
}

func idToIP(id ospf2.ID) net.IP {
	return net.IPv4(id[0], id[1], id[2], id[3])
}

// CheckTimers polls the inactivity timer and dispatches EventInactivityTimer
// if it has expired. The caller is responsible for calling this once per
// interface task iteration.
func (n *Neighbor) CheckTimers() {
	if !n.InactivityTimer.IsUp() {
		return
	}
	if expired, _ := n.InactivityTimer.IsExpired(); expired {
		n.HandleEvent(EventInactivityTimer, false)
		n.InactivityTimer.Stop()
	}
}

func (n *Neighbor) clearLSALists() {
	n.LSARetransmission = nil
	n.DBSummary = nil
	n.LinkStateRequest = nil
}

func (n *Neighbor) beginExStart() {
	n.State = ExStart
	// RFC2328 doesn't mandate a specific algorithm for picking the initial
	// DD sequence number beyond "some unique value"; using the current Unix
	// time in seconds is simple and monotonic enough for a single process.
	n.DDSequence = uint32(time.Now().Unix())
	n.ExStartRxmtTimer.StartImmediate()
}

// HandleEvent advances the neighbor state machine in response to event.
// adjacencyEligible must be supplied by the caller (the owning interface)
// for EventTwoWayReceived and EventAdjOK: true if this neighbor should be
// brought into full adjacency (RFC2328 section 10.4 — always true on
// point-to-point/point-to-multipoint/virtual links, and on broadcast links
// only when the local router or this neighbor is DR or BDR). It is ignored
// for all other events.
func (n *Neighbor) HandleEvent(event Event, adjacencyEligible bool) {
	before := n.State

	if event != EventHelloReceived && event != EventTwoWayReceived {
		n.log.Debug("neighbor event", "event", event, "state", before)
	}

	switch event {
	case EventStart:
		n.State = Attempt
		n.InactivityTimer.Start()

	case EventHelloReceived:
		if n.State.LowerThanInit() {
			n.State = Init
		}
		n.InactivityTimer.Start()

	case EventOneWayReceived:
		n.State = Init
		n.clearLSALists()

	case EventTwoWayReceived:
		if n.State.HigherThanTwoWay() {
			return
		}
		if adjacencyEligible {
			n.beginExStart()
		} else {
			n.State = TwoWay
		}

	case EventNegotiationDone:
		n.State = Exchange

	case EventExchangeDone:
		if len(n.LinkStateRequest) == 0 {
			n.State = Full
		} else {
			n.State = Loading
		}

	case EventLoadingDone:
		n.State = Full

	case EventAdjOK:
		if n.State == TwoWay {
			if adjacencyEligible {
				n.beginExStart()
			}
			// else remain TwoWay.
		} else if !adjacencyEligible {
			n.State = TwoWay
			n.clearLSALists()
		}
		// else: already adjacent and still eligible, nothing to do.

	case EventSeqNumberMismatch, EventBadLSReq:
		n.clearLSALists()
		n.beginExStart()

	case EventSeqNumberMatch:
		n.State = Exchange

	case EventKillNbr, EventInactivityTimer, EventLLDown:
		n.State = Down
		n.clearLSALists()
	}

	if before != n.State {
		n.log.Info("neighbor state changed", "from", before, "to", n.State)
	}
}
