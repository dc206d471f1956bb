package lottery

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derWhity/cfpdesk/internal/models"
)

func TestOversubscribedWorkshop(t *testing.T) {
	counts := []int{1, 1, 1, 2, 1}
	for seed := int64(0); seed < 100; seed++ {
		var entries []Entry
		for i, c := range counts {
			entries = append(entries, Entry{TicketID: uint(i + 1), UserID: uint(i + 1), Count: c})
		}
		res := Run([]Draw{{ProposalID: 1, Capacity: 3, Entries: entries}}, rand.New(rand.NewSource(seed)))

		seats := 0
		for _, w := range res.Winners {
			seats += w.Count
		}
		assert.LessOrEqual(t, seats, 3, "seed %d", seed)
		assert.Len(t, res.States, 5)
		assert.Equal(t, 5, res.Count(models.TicketIssued)+res.Count(models.TicketLostLottery))
		assert.Equal(t, 3-seats, res.Remaining[1])
		// With single seat entries left over, the capacity is always filled
		assert.Equal(t, 3, seats, "seed %d", seed)
	}
}

func TestTooLargeGroupNeverWins(t *testing.T) {
	entries := []Entry{
		{TicketID: 1, UserID: 1, Count: 5},
		{TicketID: 2, UserID: 2, Count: 1},
	}
	res := Run([]Draw{{ProposalID: 1, Capacity: 3, Entries: entries}}, rand.New(rand.NewSource(1)))
	assert.Equal(t, models.TicketLostLottery, res.States[1])
	assert.Equal(t, models.TicketIssued, res.States[2])
}

func TestSingleWinAcrossProposals(t *testing.T) {
	var draws []Draw
	for p := uint(1); p <= 3; p++ {
		d := Draw{ProposalID: p, Capacity: 2}
		for u := uint(1); u <= 6; u++ {
			d.Entries = append(d.Entries, Entry{
				TicketID: p*100 + u,
				UserID:   u,
				Count:    1,
				Rank:     int((p + u) % 3),
			})
		}
		draws = append(draws, d)
	}
	for seed := int64(0); seed < 50; seed++ {
		res := Run(draws, rand.New(rand.NewSource(seed)))
		winners := map[uint]int{}
		for _, w := range res.Winners {
			winners[w.UserID]++
		}
		for user, n := range winners {
			assert.Equal(t, 1, n, "user %d won %d times with seed %d", user, n, seed)
		}
		for _, d := range draws {
			assert.GreaterOrEqual(t, res.Remaining[d.ProposalID], 0)
		}
		assert.Len(t, res.States, 18)
		// 6 seats, 6 users: every user wins exactly once
		assert.Len(t, winners, 6)
		assert.Equal(t, 12, res.Count(models.TicketCancelled)+res.Count(models.TicketLostLottery))
	}
}

func TestLowerRanksDrawFirst(t *testing.T) {
	entries := []Entry{
		{TicketID: 1, UserID: 1, Count: 1, Rank: 1},
		{TicketID: 2, UserID: 2, Count: 1, Rank: 0},
	}
	for seed := int64(0); seed < 20; seed++ {
		res := Run([]Draw{{ProposalID: 1, Capacity: 1, Entries: entries}}, rand.New(rand.NewSource(seed)))
		require.Len(t, res.Winners, 1)
		assert.Equal(t, uint(2), res.Winners[0].UserID)
		assert.Equal(t, models.TicketLostLottery, res.States[1])
	}
}

func TestRunDoesNotModifyInput(t *testing.T) {
	draws := []Draw{{ProposalID: 2, Capacity: 1, Entries: []Entry{{TicketID: 1, UserID: 1, Count: 1}}}}
	Run(draws, rand.New(rand.NewSource(3)))
	assert.Equal(t, 1, draws[0].Capacity)
	assert.Len(t, draws[0].Entries, 1)
}
