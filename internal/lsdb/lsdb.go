// Package lsdb implements the link state database: the single goroutine
// that owns every LSA this router knows about, ages them, answers queries,
// and originates this router's own Router-LSA and Network-LSAs.
//
// All access goes through a Database's request channel, mirroring the
// request/reply task the rest of the router core talks to, so the LSA list
// and the sequence number counter are only ever touched from one goroutine.
package lsdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ospf2d/ospf2d/internal/config"
	"github.com/ospf2d/ospf2d/ospf2"
)

type key struct {
	Type              ospf2.LSType
	LinkStateID       ospf2.ID
	AdvertisingRouter ospf2.ID
}

func keyOf(h ospf2.LSAHeader) key {
	return key{Type: h.Type, LinkStateID: h.LinkStateID, AdvertisingRouter: h.AdvertisingRouter}
}

// A RequestType selects the operation a Request asks the Database to
// perform, mirroring original_source's DatabaseRequestType enum.
type RequestType uint8

// Possible RequestType values.
const (
	ReqQueryAll RequestType = iota
	ReqQueryAllByType
	ReqQueryByHeader
	ReqQueryByLSID
	ReqQueryByLSIDAdvRouter
	ReqQueryMulti
	ReqAddOrUpdate
	ReqRemove
	ReqGenRouterLSA
	ReqGenNetworkLSA
)

// A LSIDAdvRouter pairs a link state ID with an advertising router, the key
// used by QueryMulti to fetch several LSAs in one round trip.
type LSIDAdvRouter struct {
	LinkStateID       ospf2.ID
	AdvertisingRouter ospf2.ID
}

// A Request is one operation submitted to the Database's run loop. Reply
// receives exactly one Response before the request completes.
type Request struct {
	Type RequestType

	LSAType     ospf2.LSType
	Header      ospf2.LSAHeader
	LSA         ospf2.LSA
	Queries     []LSIDAdvRouter
	IfaceAddr   ospf2.ID
	Link        ospf2.RouterLink
	NetworkAddr ospf2.ID
	NetworkMask uint32
	Attached    []ospf2.ID

	Reply chan Response
}

// A Response is the Database's answer to a Request.
type Response struct {
	LSA     ospf2.LSA
	LSAList []ospf2.LSA
	Found   bool
	Changed bool
	Err     error
}

// A Database holds every LSA known to this router and answers Requests sent
// on its channel. Run must be driving its loop for requests to be answered.
type Database struct {
	RouterID ospf2.ID
	AreaID   ospf2.ID

	requests chan Request

	lsas       map[key]ospf2.LSA
	originated map[key]time.Time
	maxAgedAt  map[key]time.Time
	eachLink   map[ospf2.ID]ospf2.RouterLink
	seqNum     uint32

	maxAge     uint16
	maxAgeDiff uint16
	refresh    time.Duration

	// OnChange, if set, is invoked synchronously after any request that
	// altered the LSA list (add, update, remove, regeneration). It is
	// called from the Database's own goroutine, so it must not block or
	// re-enter the Database's request channel.
	OnChange func()

	log *slog.Logger
}

// New creates a Database for a router identified by routerID in area
// areaID. The returned Database does nothing until Run is called.
func New(routerID, areaID ospf2.ID, log *slog.Logger) *Database {
	if log == nil {
		log = slog.Default()
	}
	return &Database{
		RouterID:   routerID,
		AreaID:     areaID,
		requests:   make(chan Request, 16),
		lsas:       make(map[key]ospf2.LSA),
		originated: make(map[key]time.Time),
		maxAgedAt:  make(map[key]time.Time),
		eachLink:   make(map[ospf2.ID]ospf2.RouterLink),
		seqNum:     config.InitialSeqNum,
		maxAge:     config.MaxAgeSeconds,
		maxAgeDiff: config.MaxAgeDiffSeconds,
		refresh:    config.LSRefreshTime,
		log:        log.With("component", "lsdb"),
	}
}

// Requests returns the channel Run reads from. Callers send a Request on
// this channel and receive exactly one Response on Request.Reply.
func (d *Database) Requests() chan<- Request { return d.requests }

// Do sends req to the Database and blocks for its reply. It is a
// convenience wrapper for callers that don't need to hold the reply channel
// open across other work.
func (d *Database) Do(req Request) Response {
	reply := make(chan Response, 1)
	req.Reply = reply
	d.requests <- req
	return <-reply
}

// Run processes requests until ctx is canceled, aging every known LSA once
// per tick.
func (d *Database) Run(ctx context.Context, tick <-chan time.Time) {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			d.age(now, now.Sub(last))
			last = now
		case req := <-d.requests:
			now := time.Now()
			d.age(now, now.Sub(last))
			last = now
			resp := d.handle(req)
			if req.Reply != nil {
				req.Reply <- resp
			}
		}
	}
}

// age advances every LSA's age by elapsed, reoriginating self-originated
// LSAs that have reached the refresh interval and dropping LSAs that have
// sat at MaxAge past a grace period, per SPEC_FULL.md's resolution of
// aging's open question: a max-aged LSA must stop being presented to SPF and
// must eventually leave the database rather than aging forever.
func (d *Database) age(now time.Time, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	delta := uint16(elapsed / time.Second)
	if delta == 0 {
		return
	}

	grace := 4 * config.MinLSArrival

	changed := false
	for k, l := range d.lsas {
		h := l.header()
		age := uint16(h.Age / time.Second)

		if k.AdvertisingRouter == d.RouterID {
			if since, ok := d.originated[k]; ok && now.Sub(since) >= d.refresh {
				d.reoriginate(k, l, now)
				delete(d.maxAgedAt, k)
				changed = true
				continue
			}
		}

		if age >= d.maxAge {
			// Past MaxAge: stop aging it further and let it fall out of
			// the database once it has sat there a while, giving
			// neighbors a chance to see the MaxAge instance flooded.
			since, ok := d.maxAgedAt[k]
			if !ok {
				d.maxAgedAt[k] = now
				continue
			}
			if now.Sub(since) >= grace {
				delete(d.lsas, k)
				delete(d.originated, k)
				delete(d.maxAgedAt, k)
				changed = true
			}
			continue
		}

		newAge := age + delta
		if newAge > d.maxAge {
			newAge = d.maxAge
		}
		h.Age = time.Duration(newAge) * time.Second
		changed = true
	}

	if changed && d.OnChange != nil {
		d.OnChange()
	}
}

// reoriginate replaces a self-originated LSA with a fresh instance carrying
// the same body, a bumped sequence number, age 0, and a recomputed
// checksum, per RFC2328 section 12.4's periodic refresh.
func (d *Database) reoriginate(k key, l ospf2.LSA, now time.Time) {
	d.bumpSeq()
	h := l.header()
	h.Age = 0
	h.SequenceNumber = d.seqNum
	if err := ospf2.SetChecksumLength(l); err != nil {
		d.log.Error("failed to refresh self-originated LSA", "error", err, "type", k.Type)
		return
	}
	d.originated[k] = now
	d.log.Info("refreshed self-originated LSA", "type", k.Type, "link_state_id", k.LinkStateID)
}

func (d *Database) bumpSeq() {
	if int32(d.seqNum) >= int32(config.MaxSeqNum) {
		d.seqNum = config.InitialSeqNum
		return
	}
	d.seqNum++
}

func (d *Database) handle(req Request) Response {
	changed := false
	resp := func() Response {
		switch req.Type {
		case ReqQueryAll:
			return Response{LSAList: d.all()}

		case ReqQueryAllByType:
			var out []ospf2.LSA
			for _, l := range d.lsas {
				if l.header().Type == req.LSAType {
					out = append(out, l)
				}
			}
			return Response{LSAList: out}

		case ReqQueryByHeader:
			l, ok := d.lsas[keyOf(req.Header)]
			return Response{LSA: l, Found: ok}

		case ReqQueryByLSID:
			for _, l := range d.lsas {
				if l.header().LinkStateID == req.Header.LinkStateID {
					return Response{LSA: l, Found: true}
				}
			}
			return Response{Found: false}

		case ReqQueryByLSIDAdvRouter:
			l, ok := d.lsas[key{
				Type:              req.LSAType,
				LinkStateID:       req.Header.LinkStateID,
				AdvertisingRouter: req.Header.AdvertisingRouter,
			}]
			return Response{LSA: l, Found: ok}

		case ReqQueryMulti:
			var out []ospf2.LSA
			for _, q := range req.Queries {
				for _, l := range d.lsas {
					h := l.header()
					if h.LinkStateID == q.LinkStateID && h.AdvertisingRouter == q.AdvertisingRouter {
						out = append(out, l)
					}
				}
			}
			return Response{LSAList: out}

		case ReqAddOrUpdate:
			k := keyOf(*req.LSA.header())
			d.lsas[k] = req.LSA
			if k.AdvertisingRouter == d.RouterID {
				d.originated[k] = time.Now()
			}
			changed = true
			return Response{}

		case ReqRemove:
			k := keyOf(req.Header)
			if _, ok := d.lsas[k]; !ok {
				return Response{Found: false}
			}
			delete(d.lsas, k)
			delete(d.originated, k)
			changed = true
			return Response{Found: true}

		case ReqGenRouterLSA:
			l, err := d.genRouterLSA(req.IfaceAddr, req.Link)
			if err != nil {
				return Response{Err: err}
			}
			changed = true
			return Response{LSA: l}

		case ReqGenNetworkLSA:
			l, err := d.genNetworkLSA(req.NetworkAddr, req.NetworkMask, req.Attached)
			if err != nil {
				return Response{Err: err}
			}
			changed = true
			return Response{LSA: l}

		default:
			return Response{Err: fmt.Errorf("lsdb: unknown request type %d", req.Type)}
		}
	}()

	if changed && d.OnChange != nil {
		d.OnChange()
	}
	return resp
}

func (d *Database) all() []ospf2.LSA {
	out := make([]ospf2.LSA, 0, len(d.lsas))
	for _, l := range d.lsas {
		out = append(out, l)
	}
	return out
}

// genRouterLSA folds link into this router's per-interface link table and
// regenerates the whole Router-LSA from it, mirroring
// original_source's make_router_lsa/GenRouterLsa: one Router-LSA per router,
// rebuilt in full on every interface change rather than patched in place.
func (d *Database) genRouterLSA(ifaceAddr ospf2.ID, link ospf2.RouterLink) (ospf2.LSA, error) {
	d.eachLink[ifaceAddr] = link

	links := make([]ospf2.RouterLink, 0, len(d.eachLink))
	for _, l := range d.eachLink {
		links = append(links, l)
	}

	var flags uint16
	if len(links) > 1 {
		// More than one link suggests this router could transit traffic
		// between areas/ASes in a fuller implementation; left at zero here
		// since this router only ever runs a single area (SPEC_FULL.md
		// non-goal: no ABR/ASBR support).
		flags = 0
	}

	l := &ospf2.RouterLSA{
		Header: ospf2.LSAHeader{
			Options:           ospf2.EBit,
			Type:              ospf2.LSTypeRouter,
			LinkStateID:       d.RouterID,
			AdvertisingRouter: d.RouterID,
		},
		Flags: flags,
		Links: links,
	}

	d.bumpSeq()
	l.Header.SequenceNumber = d.seqNum
	if err := ospf2.SetChecksumLength(l); err != nil {
		return nil, fmt.Errorf("lsdb: generate router LSA: %w", err)
	}

	k := keyOf(l.Header)
	d.lsas[k] = l
	d.originated[k] = time.Now()
	d.log.Info("generated router LSA", "links", len(links), "sequence", l.Header.SequenceNumber)
	return l, nil
}

// genNetworkLSA builds this segment's Network-LSA, called only by the
// interface currently acting as Designated Router.
func (d *Database) genNetworkLSA(addr ospf2.ID, mask uint32, attached []ospf2.ID) (ospf2.LSA, error) {
	l := &ospf2.NetworkLSA{
		Header: ospf2.LSAHeader{
			Options:           ospf2.EBit,
			Type:              ospf2.LSTypeNetwork,
			LinkStateID:       addr,
			AdvertisingRouter: d.RouterID,
		},
		NetworkMask:     mask,
		AttachedRouters: attached,
	}

	d.bumpSeq()
	l.Header.SequenceNumber = d.seqNum
	if err := ospf2.SetChecksumLength(l); err != nil {
		return nil, fmt.Errorf("lsdb: generate network LSA: %w", err)
	}

	k := keyOf(l.Header)
	d.lsas[k] = l
	d.originated[k] = time.Now()
	d.log.Info("generated network LSA", "link_state_id", addr, "attached", len(attached))
	return l, nil
}
