// Package rating implements the skill model used for matchmaking: a one-versus-one,
// no-draw TrueSkill update and the matching quality derived from it.
//
// All functions are pure. A skill belief is a Gaussian with mean Mu and standard
// deviation Sigma; Sigma must stay strictly positive.
package rating

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// DefaultMu is the mean assigned to a player that has never played.
	DefaultMu = 25.0
	// DefaultSigma is the uncertainty assigned to a player that has never played.
	DefaultSigma = DefaultMu / K
	// Beta is the per-match performance variability.
	Beta = DefaultSigma / 4
	// K weights sigma in the conservative display rating.
	K = 3
	// DrawMargin is fixed at zero, draws are not modeled.
	DrawMargin = 0.0

	// maxW keeps the variance factor strictly positive when the normal CDF
	// underflows for very lopsided results.
	maxW = 1 - 1e-12
	// minVW floors v and w for expected wins many c ahead, where the exact
	// corrections fall below float64 resolution and would leave the skills
	// unchanged.
	minVW = 1e-12
)

var ErrInvalidSkill = eris.New("invalid skill")

// Skill is a mean/uncertainty pair.
type Skill struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

// Default returns the skill of a new player.
func Default() Skill {
	return Skill{Mu: DefaultMu, Sigma: DefaultSigma}
}

// Validate reports whether the skill can be fed to the model.
func (s Skill) Validate() error {
	if math.IsNaN(s.Mu) || math.IsInf(s.Mu, 0) {
		return eris.Wrapf(ErrInvalidSkill, "mu %v is not finite", s.Mu)
	}
	if math.IsNaN(s.Sigma) || math.IsInf(s.Sigma, 0) || s.Sigma <= 0 {
		return eris.Wrapf(ErrInvalidSkill, "sigma %v must be positive and finite", s.Sigma)
	}
	return nil
}

// Rating is the display rating of the skill.
func (s Skill) Rating() int {
	return DisplayRating(s.Mu, s.Sigma)
}

// c is the combined standard deviation of the two performances.
func c(sigma1, sigma2 float64) float64 {
	return math.Sqrt(2*Beta*Beta + sigma1*sigma1 + sigma2*sigma2)
}

// MatchQuality estimates how evenly two skills are matched, in [0, 1]. It is the
// normal density of the mean gap normalized by c, scaled so that equal means
// score exactly 1. It is symmetric in its two players.
func MatchQuality(mu1, sigma1, mu2, sigma2 float64) float64 {
	cc := c(sigma1, sigma2)
	if cc == 0 || math.IsNaN(cc) {
		return 0
	}
	t := (mu1 - mu2) / cc
	q := distuv.UnitNormal.Prob(t) / distuv.UnitNormal.Prob(0)
	if math.IsNaN(q) {
		return 0
	}
	return math.Min(1, math.Max(0, q))
}

// vw returns the truncated Gaussian corrections for a win by a margin of t
// standard deviations.
func vw(t, eps float64) (v, w float64) {
	x := t - eps
	cdf := distuv.UnitNormal.CDF(x)
	if cdf < math.SmallestNonzeroFloat64 {
		// Asymptotes for x -> -inf.
		return -x, maxW
	}
	v = distuv.UnitNormal.Prob(x) / cdf
	w = v * (v + x)
	if v < minVW {
		v = minVW
	}
	if w > maxW {
		w = maxW
	}
	if w < minVW {
		w = minVW
	}
	return v, w
}

// UpdateAfterMatch applies the result of a single match won by winner against
// loser and returns both updated skills. The winner's mean rises, the loser's
// falls and both sigmas shrink.
//
// For a win many c ahead of expectations the exact corrections are below
// float64 resolution; they are floored at 1e-12 so the update still moves each
// skill by a tiny amount. Means of order 1e5 and beyond still absorb that step.
func UpdateAfterMatch(winner, loser Skill) (Skill, Skill, error) {
	if err := winner.Validate(); err != nil {
		return Skill{}, Skill{}, eris.Wrap(err, "winner")
	}
	if err := loser.Validate(); err != nil {
		return Skill{}, Skill{}, eris.Wrap(err, "loser")
	}

	cc := c(winner.Sigma, loser.Sigma)
	v, w := vw((winner.Mu-loser.Mu)/cc, DrawMargin/cc)

	wVar := winner.Sigma * winner.Sigma
	lVar := loser.Sigma * loser.Sigma

	nextWinner := Skill{
		Mu:    winner.Mu + wVar/cc*v,
		Sigma: math.Sqrt(wVar * (1 - wVar/(cc*cc)*w)),
	}
	nextLoser := Skill{
		Mu:    loser.Mu - lVar/cc*v,
		Sigma: math.Sqrt(lVar * (1 - lVar/(cc*cc)*w)),
	}
	if err := nextWinner.Validate(); err != nil {
		return Skill{}, Skill{}, eris.Wrap(err, "degenerate winner update")
	}
	if err := nextLoser.Validate(); err != nil {
		return Skill{}, Skill{}, eris.Wrap(err, "degenerate loser update")
	}
	return nextWinner, nextLoser, nil
}

// DisplayRating is a conservative score, mu*100 - K*sigma*10, rounded down.
// It is never used for matching decisions.
func DisplayRating(mu, sigma float64) int {
	return int(math.Floor(mu*100 - K*sigma*10))
}

// WinProbability is the logistic Elo expectation 1 / (1 + 10^((r1-r2)/400)),
// i.e. the expected score of the holder of rating2 against rating1.
func WinProbability(rating1, rating2 float64) float64 {
	return 1 / (1 + math.Pow(10, (rating1-rating2)/400))
}
