// Package majority implements majority judgement scoring of reviewer votes by iterated floor-medians.
// All arithmetic is done on integers.
package majority

import (
	"fmt"
	"math/big"
	"sort"
)

// DefaultBase is the number of distinct vote values (0, 1, 2)
const DefaultBase = 3

// ErrVoteOutOfRange is returned for votes outside [0, base)
type ErrVoteOutOfRange struct {
	Vote int
	Base int
}

func (e ErrVoteOutOfRange) Error() string {
	return fmt.Sprintf("vote %d is outside of [0, %d)", e.Vote, e.Base)
}

// Digits returns the sequence of floor-medians taken from the votes, removing one occurrence of each median
// before taking the next one
func Digits(votes []int) []int {
	rest := append([]int(nil), votes...)
	sort.Ints(rest)
	ret := make([]int, 0, len(rest))
	for len(rest) > 0 {
		// floor((n - 0.5) / 2) without leaving the integers
		idx := (2*len(rest) - 1) / 4
		ret = append(ret, rest[idx])
		rest = append(rest[:idx], rest[idx+1:]...)
	}
	return ret
}

// Score interprets the median digits of the votes as a number in the given base
func Score(votes []int, base int) (*big.Int, error) {
	if base < 2 {
		return nil, fmt.Errorf("base %d is too small", base)
	}
	for _, v := range votes {
		if v < 0 || v >= base {
			return nil, ErrVoteOutOfRange{Vote: v, Base: base}
		}
	}
	b := big.NewInt(int64(base))
	ret := new(big.Int)
	for _, d := range Digits(votes) {
		ret.Mul(ret, b)
		ret.Add(ret, big.NewInt(int64(d)))
	}
	return ret, nil
}

// MaxScore is the score of n unanimous top votes
func MaxScore(n int, base int) *big.Int {
	// base^n - 1
	ret := new(big.Int).Exp(big.NewInt(int64(base)), big.NewInt(int64(n)), nil)
	return ret.Sub(ret, big.NewInt(1))
}

// NormalisedRat returns score(votes) / score([base-1]*len(votes)) as an exact fraction in [0, 1]
func NormalisedRat(votes []int, base int) (*big.Rat, error) {
	if len(votes) == 0 {
		return new(big.Rat), nil
	}
	score, err := Score(votes, base)
	if err != nil {
		return nil, err
	}
	return new(big.Rat).SetFrac(score, MaxScore(len(votes), base)), nil
}

// NormalisedScore returns the normalised score as a float for display and thresholds. No votes score 0.
func NormalisedScore(votes []int, base int) (float64, error) {
	r, err := NormalisedRat(votes, base)
	if err != nil {
		return 0, err
	}
	f, _ := r.Float64()
	return f, nil
}
