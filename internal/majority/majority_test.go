package majority

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigits(t *testing.T) {
	tests := []struct {
		name  string
		votes []int
		want  []int
	}{
		{"empty", nil, []int{}},
		{"single", []int{1}, []int{1}},
		{"two takes the lower", []int{2, 0}, []int{0, 2}},
		{"three", []int{2, 2, 1}, []int{2, 1, 2}},
		{"four", []int{0, 1, 2, 2}, []int{1, 2, 0, 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Digits(tc.votes))
		})
	}
}

func TestScore(t *testing.T) {
	score, err := Score([]int{2, 2, 1}, DefaultBase)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(23), score)

	norm, err := NormalisedScore([]int{2, 2, 1}, DefaultBase)
	require.NoError(t, err)
	assert.InDelta(t, 23.0/26.0, norm, 1e-9)
	assert.InDelta(t, 0.88, norm, 0.01)
}

func TestScoreRejectsOutOfRange(t *testing.T) {
	_, err := Score([]int{0, 3}, DefaultBase)
	assert.Equal(t, ErrVoteOutOfRange{Vote: 3, Base: DefaultBase}, err)
	_, err = Score([]int{-1}, DefaultBase)
	assert.Error(t, err)
}

func TestNormalisedBounds(t *testing.T) {
	for n := 1; n <= 40; n++ {
		top := make([]int, n)
		bottom := make([]int, n)
		for i := range top {
			top[i] = DefaultBase - 1
		}
		one, err := NormalisedScore(top, DefaultBase)
		require.NoError(t, err)
		assert.Equal(t, 1.0, one, "n=%d", n)
		zero, err := NormalisedScore(bottom, DefaultBase)
		require.NoError(t, err)
		assert.Equal(t, 0.0, zero, "n=%d", n)
	}
	empty, err := NormalisedScore(nil, DefaultBase)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty)
}

func TestOrderInsensitive(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		votes := make([]int, 1+rnd.Intn(12))
		for j := range votes {
			votes[j] = rnd.Intn(DefaultBase)
		}
		shuffled := append([]int(nil), votes...)
		rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		a, err := Score(votes, DefaultBase)
		require.NoError(t, err)
		b, err := Score(shuffled, DefaultBase)
		require.NoError(t, err)
		assert.Zero(t, a.Cmp(b), "votes %v vs %v", votes, shuffled)

		norm, err := NormalisedScore(votes, DefaultBase)
		require.NoError(t, err)
		assert.True(t, norm >= 0 && norm <= 1)
	}
}

func TestTopVoteIncreasesScore(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		votes := make([]int, 1+rnd.Intn(10))
		for j := range votes {
			votes[j] = rnd.Intn(DefaultBase)
		}
		unanimous := true
		for _, v := range votes {
			unanimous = unanimous && v == DefaultBase-1
		}
		if unanimous {
			continue
		}
		before, err := NormalisedRat(votes, DefaultBase)
		require.NoError(t, err)
		after, err := NormalisedRat(append(votes, DefaultBase-1), DefaultBase)
		require.NoError(t, err)
		assert.Equal(t, 1, after.Cmp(before), "votes %v", votes)
	}
}
