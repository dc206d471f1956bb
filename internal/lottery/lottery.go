// Package lottery draws seats of capped proposals among the users who entered their lotteries.
//
// Rounds run from rank 0 up to the highest rank entered. In round r every proposal draws, in random order, from its
// open entries ranked r or better. A winner's other open entries are cancelled, so nobody wins twice.
package lottery

import (
	"math/rand"
	"sort"

	"github.com/derWhity/cfpdesk/internal/models"
)

// Entry is one open lottery ticket
type Entry struct {
	TicketID uint
	UserID   uint
	Count    int
	Rank     int
}

// Draw is one proposal taking part in the lottery
type Draw struct {
	ProposalID uint
	// Seats still available
	Capacity int
	Entries  []Entry
}

// Result maps each entered ticket to its new state
type Result struct {
	States map[uint]models.TicketState
	// Remaining capacity per proposal after the draw
	Remaining map[uint]int
	// Winning tickets in the order they were drawn
	Winners []Entry
}

// Won returns the number of winning tickets
func (r *Result) Won() int {
	return len(r.Winners)
}

// Count returns how many tickets ended in the given state
func (r *Result) Count(state models.TicketState) int {
	n := 0
	for _, s := range r.States {
		if s == state {
			n++
		}
	}
	return n
}

// Run performs the draw with the given random source. It does not modify its input.
func Run(draws []Draw, rnd *rand.Rand) Result {
	res := Result{
		States:    map[uint]models.TicketState{},
		Remaining: map[uint]int{},
	}
	type open struct {
		Entry
		proposalID uint
	}
	var (
		maxRank int
		byUser  = map[uint][]uint{}
		pending = map[uint]*open{}
	)
	sorted := append([]Draw(nil), draws...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProposalID < sorted[j].ProposalID })
	for _, d := range sorted {
		res.Remaining[d.ProposalID] = d.Capacity
		for _, e := range d.Entries {
			pending[e.TicketID] = &open{Entry: e, proposalID: d.ProposalID}
			byUser[e.UserID] = append(byUser[e.UserID], e.TicketID)
			if e.Rank > maxRank {
				maxRank = e.Rank
			}
		}
	}

	for r := 0; r <= maxRank; r++ {
		for _, d := range sorted {
			var pool []*open
			for _, e := range d.Entries {
				if o, ok := pending[e.TicketID]; ok && o.Rank <= r {
					pool = append(pool, o)
				}
			}
			// Stable base order before shuffling keeps runs reproducible for a given seed
			sort.Slice(pool, func(i, j int) bool { return pool[i].TicketID < pool[j].TicketID })
			rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

			for len(pool) > 0 && res.Remaining[d.ProposalID] > 0 {
				o := pool[0]
				pool = pool[1:]
				if _, ok := pending[o.TicketID]; !ok {
					// Cancelled by a win earlier in this round
					continue
				}
				delete(pending, o.TicketID)
				if o.Count > res.Remaining[d.ProposalID] {
					res.States[o.TicketID] = models.TicketLostLottery
					continue
				}
				res.States[o.TicketID] = models.TicketIssued
				res.Remaining[d.ProposalID] -= o.Count
				res.Winners = append(res.Winners, o.Entry)
				for _, other := range byUser[o.UserID] {
					if _, ok := pending[other]; ok {
						delete(pending, other)
						res.States[other] = models.TicketCancelled
					}
				}
			}
			for _, o := range pool {
				if _, ok := pending[o.TicketID]; ok {
					delete(pending, o.TicketID)
					res.States[o.TicketID] = models.TicketLostLottery
				}
			}
		}
	}
	for id := range pending {
		res.States[id] = models.TicketLostLottery
	}
	return res
}
