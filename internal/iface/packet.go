package iface

import (
	"bytes"
	"net"
	"time"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/internal/lsdb"
	"github.com/ospf2d/ospf2d/internal/neighbor"
	"github.com/ospf2d/ospf2d/ospf2"
)

// maxDBDHeaders bounds how many LSA headers this router describes per
// Database Description packet. original_source sizes this from the
// interface's MTU as (MTU - 100) / 20; Interface doesn't track an MTU, so
// the capacity here is that formula evaluated for a 1500-byte Ethernet MTU
// (70 headers). The configured MTU is not consulted.
const maxDBDHeaders = (1500 - 100) / 20

// HandlePacket dispatches a received OSPFv2 packet from src to the handler
// for its type. Every type but Hello is dropped if src isn't already a
// tracked neighbor, since Hello is how neighbors are first discovered.
func (i *Interface) HandlePacket(p ospf2.Packet, src net.IP) {
	switch pk := p.(type) {
	case *ospf2.Hello:
		i.handleHello(pk, src)
	case *ospf2.DatabaseDescription:
		i.handleDBD(pk, src)
	case *ospf2.LinkStateRequest:
		i.handleLSR(pk, src)
	case *ospf2.LinkStateUpdate:
		i.handleLSU(pk, src)
	case *ospf2.LinkStateAcknowledgement:
		i.handleLSAck(pk, src)
	}
}

func idToIP(id ospf2.ID) net.IP {
	return net.IPv4(id[0], id[1], id[2], id[3])
}

func (i *Interface) handleHello(h *ospf2.Hello, src net.IP) {
	n, ok := i.neighborByIP(src)
	if !ok {
		n = neighbor.New(h, h.Header.RouterID, src, i.DeadInterval, i.RxmtInterval, i.log)
		i.Neighbors = append(i.Neighbors, n)
	}

	prevDR, prevBDR := n.DR, n.BDR
	n.ID = h.Header.RouterID
	n.Priority = h.RouterPriority
	n.Options = h.Options
	n.DR = idToIP(h.DesignatedRouterID)
	n.BDR = idToIP(h.BackupDesignatedRouterID)

	i.NeighborEvent(n, neighbor.EventHelloReceived)

	var sawSelf bool
	for _, id := range h.NeighborIDs {
		if id == i.RouterID {
			sawSelf = true
			break
		}
	}
	if !sawSelf {
		i.NeighborEvent(n, neighbor.EventOneWayReceived)
		return
	}
	i.NeighborEvent(n, neighbor.EventTwoWayReceived)

	drDeclareChanged := prevDR.Equal(n.IP) != n.DR.Equal(n.IP)
	bdrDeclareChanged := prevBDR.Equal(n.IP) != n.BDR.Equal(n.IP)

	switch {
	case (n.DR.Equal(n.IP) || n.BDR.Equal(n.IP)) && i.State == Waiting:
		i.HandleEvent(EventBackupSeen)
	case drDeclareChanged || bdrDeclareChanged:
		i.HandleEvent(EventNeighborChange)
	}
}

// sendDBD sends a Database Description packet to n and records it as the
// last one sent, so the retransmission timer can resend it verbatim if no
// reply arrives before it expires.
func (i *Interface) sendDBD(n *neighbor.Neighbor, flags ospf2.DDFlags, seq uint32, headers []ospf2.LSAHeader) {
	if err := i.sender.SendDBD(i, n, flags, seq, headers); err != nil {
		i.log.Error("failed to send DBD", "neighbor", n.IP, "error", err)
	}
	n.LastSentDD = &neighbor.SentDD{Flags: flags, Sequence: seq, LSAHeaders: headers}
}

func (i *Interface) resendDBD(n *neighbor.Neighbor) {
	if n.LastSentDD == nil {
		return
	}
	if err := i.sender.SendDBD(i, n, n.LastSentDD.Flags, n.LastSentDD.Sequence, n.LastSentDD.LSAHeaders); err != nil {
		i.log.Error("failed to resend DBD", "neighbor", n.IP, "error", err)
	}
}

// nextDBDChunk pops up to maxDBDHeaders headers off the front of n's
// remaining database summary, reporting whether anything remains after.
func nextDBDChunk(n *neighbor.Neighbor) (chunk []ospf2.LSAHeader, more bool) {
	size := len(n.DBSummary)
	if size > maxDBDHeaders {
		size = maxDBDHeaders
	}
	chunk = n.DBSummary[:size]
	n.DBSummary = n.DBSummary[size:]
	return chunk, len(n.DBSummary) > 0
}

func flagsFor(initBit, more, master bool) ospf2.DDFlags {
	var f ospf2.DDFlags
	if initBit {
		f |= ospf2.IBit
	}
	if more {
		f |= ospf2.MBit
	}
	if master {
		f |= ospf2.MSBit
	}
	return f
}

func (i *Interface) handleDBD(dbd *ospf2.DatabaseDescription, src net.IP) {
	n, ok := i.neighborByIP(src)
	if !ok {
		return
	}

	duplicate := n.LastReceivedDD != nil && dbd.SequenceNumber == n.LastReceivedDD.SequenceNumber
	n.LastReceivedDD = dbd

	if n.State == neighbor.Init {
		i.NeighborEvent(n, neighbor.EventTwoWayReceived)
		if n.State != neighbor.ExStart {
			return
		}
	}

	accepted := false
	switch n.State {
	case neighbor.Down, neighbor.Attempt, neighbor.TwoWay:
		return

	case neighbor.ExStart:
		i.negotiate(n, dbd)
		return

	case neighbor.Exchange:
		if duplicate {
			if n.IsMaster {
				i.resendDBD(n)
			}
			return
		}
		if (dbd.Flags&ospf2.MSBit != 0) != n.IsMaster || dbd.Flags&ospf2.IBit != 0 || dbd.Options != n.Options {
			i.NeighborEvent(n, neighbor.EventSeqNumberMismatch)
			return
		}
		if n.IsMaster && dbd.SequenceNumber != n.DDSequence+1 {
			i.NeighborEvent(n, neighbor.EventSeqNumberMismatch)
			return
		}
		if !n.IsMaster && dbd.SequenceNumber != n.DDSequence {
			i.NeighborEvent(n, neighbor.EventSeqNumberMismatch)
			return
		}
		accepted = true

	case neighbor.Loading, neighbor.Full:
		if !duplicate {
			i.NeighborEvent(n, neighbor.EventSeqNumberMismatch)
			return
		}
		if n.IsMaster {
			i.resendDBD(n)
		}
		return
	}

	if accepted {
		i.acceptDBD(n, dbd)
	}
}

// negotiate runs RFC2328 section 10.6's ExStart negotiation: whichever
// router has the higher router ID becomes master.
func (i *Interface) negotiate(n *neighbor.Neighbor, dbd *ospf2.DatabaseDescription) {
	allSet := dbd.Flags&ospf2.IBit != 0 && dbd.Flags&ospf2.MBit != 0 && dbd.Flags&ospf2.MSBit != 0
	higherID := bytes.Compare(n.ID[:], i.RouterID[:]) > 0
	lowerID := bytes.Compare(n.ID[:], i.RouterID[:]) < 0

	switch {
	case allSet && higherID:
		n.IsMaster = true
		n.DDSequence = dbd.SequenceNumber
	case dbd.Flags&ospf2.IBit == 0 && dbd.Flags&ospf2.MSBit == 0 &&
		dbd.SequenceNumber == n.DDSequence && lowerID:
		n.IsMaster = false
	default:
		return
	}

	n.Options = dbd.Options
	i.NeighborEvent(n, neighbor.EventNegotiationDone)
	if n.State != neighbor.Exchange {
		return
	}

	resp := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryAll})
	n.DBSummary = make([]ospf2.LSAHeader, 0, len(resp.LSAList))
	for _, l := range resp.LSAList {
		n.DBSummary = append(n.DBSummary, ospf2.HeaderOf(l))
	}

	if n.IsMaster {
		chunk, more := nextDBDChunk(n)
		i.sendDBD(n, flagsFor(false, more, false), n.DDSequence, chunk)
	}
}

// acceptDBD processes an accepted (non-duplicate, correctly sequenced) DBD
// during Exchange: queues any described LSA this router doesn't have (or has
// an older copy of) onto the link state request list, then either replies
// with the next chunk (if this router is slave) or advances the sequence and
// sends the next chunk (if master), per RFC2328 section 10.8.
func (i *Interface) acceptDBD(n *neighbor.Neighbor, dbd *ospf2.DatabaseDescription) {
	for _, h := range dbd.LSAs {
		resp := i.db.Do(lsdb.Request{
			Type:    lsdb.ReqQueryByLSIDAdvRouter,
			LSAType: h.Type,
			Header:  h,
		})
		if !resp.Found || compareHeaders(h, ospf2.HeaderOf(resp.LSA)) == ospf2.LSANewer {
			n.LinkStateRequest = append(n.LinkStateRequest, h)
		}
	}

	if n.IsMaster {
		n.DDSequence = dbd.SequenceNumber
		chunk, more := nextDBDChunk(n)
		i.sendDBD(n, flagsFor(false, more, false), n.DDSequence, chunk)
		if !more && dbd.Flags&ospf2.MBit == 0 {
			i.NeighborEvent(n, neighbor.EventExchangeDone)
		}
		return
	}

	n.DDSequence++
	if dbd.Flags&ospf2.MBit == 0 {
		i.NeighborEvent(n, neighbor.EventExchangeDone)
		return
	}
	chunk, more := nextDBDChunk(n)
	i.sendDBD(n, flagsFor(false, more, true), n.DDSequence, chunk)
}

// compareHeaders applies RFC2328 section 13.1's freshness rules (sequence
// number, then checksum, then age) to two headers describing the same LSA
// identity, without needing either side's full LSA body the way CompareLSA
// does.
func compareHeaders(a, b ospf2.LSAHeader) ospf2.LSAComparison {
	if a.SequenceNumber != b.SequenceNumber {
		if int32(a.SequenceNumber) > int32(b.SequenceNumber) {
			return ospf2.LSANewer
		}
		return ospf2.LSAOlder
	}
	if a.Checksum != b.Checksum {
		if a.Checksum > b.Checksum {
			return ospf2.LSANewer
		}
		return ospf2.LSAOlder
	}

	aAge := uint16(a.Age / time.Second)
	bAge := uint16(b.Age / time.Second)
	maxAge := config.MaxAgeSeconds
	maxAgeDiff := config.MaxAgeDiffSeconds

	switch {
	case aAge == bAge:
		return ospf2.LSASame
	case aAge == maxAge:
		return ospf2.LSANewer
	case bAge == maxAge:
		return ospf2.LSAOlder
	}

	diff := int(aAge) - int(bAge)
	if diff < 0 {
		diff = -diff
	}
	if uint16(diff) > maxAgeDiff {
		if aAge < bAge {
			return ospf2.LSANewer
		}
		return ospf2.LSAOlder
	}
	return ospf2.LSASame
}

func (i *Interface) handleLSR(lsr *ospf2.LinkStateRequest, src net.IP) {
	n, ok := i.neighborByIP(src)
	if !ok {
		return
	}
	if n.State != neighbor.Exchange && n.State != neighbor.Loading && n.State != neighbor.Full {
		return
	}

	queries := make([]lsdb.LSIDAdvRouter, 0, len(lsr.Requests))
	for _, r := range lsr.Requests {
		queries = append(queries, lsdb.LSIDAdvRouter{LinkStateID: r.LinkStateID, AdvertisingRouter: r.AdvertisingRouter})
	}
	resp := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryMulti, Queries: queries})
	if len(resp.LSAList) != len(lsr.Requests) {
		i.NeighborEvent(n, neighbor.EventBadLSReq)
		return
	}

	if err := i.sender.SendLSU(i, n.IP, resp.LSAList); err != nil {
		i.log.Error("failed to send requested LSAs", "neighbor", n.IP, "error", err)
	}
}

func (i *Interface) handleLSU(lsu *ospf2.LinkStateUpdate, src net.IP) {
	n, ok := i.neighborByIP(src)
	if !ok {
		return
	}

	for _, l := range lsu.LSAs {
		h := ospf2.HeaderOf(l)
		if h.Type < ospf2.LSTypeRouter || h.Type > ospf2.LSTypeASExternal {
			continue
		}
		if !ospf2.VerifyChecksum(l) {
			i.log.Debug("dropping LSA with invalid checksum", "type", h.Type, "lsid", h.LinkStateID, "adv_router", h.AdvertisingRouter)
			continue
		}

		found := i.db.Do(lsdb.Request{Type: lsdb.ReqQueryByLSIDAdvRouter, LSAType: h.Type, Header: h})
		age := uint16(h.Age / time.Second)

		if age == config.MaxAgeSeconds && !found.Found {
			if err := i.sender.SendLSAck(i, n.IP, []ospf2.LSAHeader{h}); err != nil {
				i.log.Error("failed to ack max-age LSA", "error", err)
			}
			continue
		}

		if found.Found {
			// CompareLSA(found.LSA, l): Newer means the database's copy beats
			// the arriving one, i.e. the arriving LSA is the older instance.
			switch ospf2.CompareLSA(found.LSA, l, config.MaxAgeSeconds, config.MaxAgeDiffSeconds) {
			case ospf2.LSANewer:
				// Our copy is newer than the arriving instance: send it back
				// to correct the neighbor instead of installing the stale one.
				if err := i.sender.SendLSU(i, n.IP, []ospf2.LSA{found.LSA}); err != nil {
					i.log.Error("failed to send newer local LSA", "error", err)
				}
				continue
			case ospf2.LSASame:
				n.LSARetransmission = removeLSAHeader(n.LSARetransmission, h)
				if err := i.sender.SendLSAck(i, n.IP, []ospf2.LSAHeader{h}); err != nil {
					i.log.Error("failed to ack LSA", "error", err)
				}
				continue
			case ospf2.LSAOlder:
				// The arriving instance is newer than our copy: accept it,
				// unless this LSA is still on the neighbor's link state
				// request list, which is treated as BadLSReq.
				if hasLSAHeader(n.LinkStateRequest, h) {
					i.NeighborEvent(n, neighbor.EventBadLSReq)
					return
				}
				if age == config.MaxAgeSeconds && h.SequenceNumber == config.MaxSeqNum {
					continue
				}
				// Fall through to install/flood below.
			}
		}

		n.LinkStateRequest = removeLSAHeader(n.LinkStateRequest, h)
		if err := i.sender.FloodLSU(i, []ospf2.LSA{l}, n); err != nil {
			i.log.Error("failed to flood LSA", "error", err)
		}
		n.LSARetransmission = removeLSAHeader(n.LSARetransmission, h)
		i.db.Do(lsdb.Request{Type: lsdb.ReqAddOrUpdate, LSA: l})
		if err := i.sender.SendLSAck(i, n.IP, []ospf2.LSAHeader{h}); err != nil {
			i.log.Error("failed to ack LSA", "error", err)
		}

		if n.State == neighbor.Loading && len(n.LinkStateRequest) == 0 {
			i.NeighborEvent(n, neighbor.EventLoadingDone)
		}
	}
}

func (i *Interface) handleLSAck(ack *ospf2.LinkStateAcknowledgement, src net.IP) {
	n, ok := i.neighborByIP(src)
	if !ok {
		return
	}
	for _, h := range ack.LSAs {
		n.LSARetransmission = removeLSAHeader(n.LSARetransmission, h)
	}
}

func removeLSAHeader(list []ospf2.LSAHeader, h ospf2.LSAHeader) []ospf2.LSAHeader {
	out := list[:0]
	for _, x := range list {
		if !x.SameIdentity(h) {
			out = append(out, x)
		}
	}
	return out
}

func hasLSAHeader(list []ospf2.LSAHeader, h ospf2.LSAHeader) bool {
	for _, x := range list {
		if x.SameIdentity(h) {
			return true
		}
	}
	return false
}
