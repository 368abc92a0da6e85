// SPDX-License-Identifier: MIT
package notes

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"colorchord/internal/config"
)

// Distribution is a Gaussian fitted to the folded spectrum. Mean is a
// bin-space position in [0, bins).
type Distribution struct {
	Amplitude float64
	Mean      float64
	Sigma     float64
	Taken     bool // Claimed by an existing note during the current frame.
}

const (
	minSigma     = 0.25
	fallbackSig  = 1.0
	convergedAt  = 1e-7
	initialDamp  = 1e-3
	maxDampScale = 1e8
)

// fitTolerance is the share of the energy already explained at a bin that is
// treated as fit error rather than a new peak.
const fitTolerance = 0.1

// Decomposer extracts Gaussian peaks from a folded spectrum by greedy
// matching pursuit. It owns its working buffers so that steady-state use only
// allocates inside the linear solver.
type Decomposer struct {
	work []float64
	orig []float64 // Clipped input, to tell how much of a bin is explained.
	xs   []float64 // Circular offsets of the fit window from the seed bin.
	ys   []float64

	jac  *mat.Dense
	res  *mat.VecDense
	jtj  mat.Dense
	grad mat.VecDense
	step mat.VecDense
}

// NewDecomposer returns a Decomposer ready for any spectrum length.
func NewDecomposer() *Decomposer {
	return &Decomposer{}
}

// Decompose is a convenience wrapper around a throwaway Decomposer.
func Decompose(dst []Distribution, folded []float64, p config.Params) []Distribution {
	return NewDecomposer().Decompose(dst, folded, p)
}

// Decompose appends to dst[:0] the distributions found in folded, strongest
// first. Each round picks the bin whose residual most exceeds a tenth of what
// earlier fits removed there, so the leftovers of a fitted peak whose shape
// is not quite Gaussian do not come back as narrow peaks of their own. It
// stops when no such excess exceeds p.NoteMinimumNewDistValue or after
// len(folded)/2 peaks. Distributions whose fitted amplitude does not exceed
// the threshold are dropped.
func (d *Decomposer) Decompose(dst []Distribution, folded []float64, p config.Params) []Distribution {
	dst = dst[:0]
	n := len(folded)
	if n == 0 {
		return dst
	}
	if cap(d.work) < n {
		d.work = make([]float64, n)
		d.orig = make([]float64, n)
	}
	work, orig := d.work[:n], d.orig[:n]
	for i, v := range folded {
		if v > 0 && !math.IsNaN(v) {
			work[i] = v
		} else {
			work[i] = 0
		}
	}
	copy(orig, work)

	threshold := p.NoteMinimumNewDistValue
	seedSigma := p.DefaultSigma
	if seedSigma < minSigma {
		seedSigma = fallbackSig
	}
	maxPeaks := n / 2

	for len(dst) < maxPeaks {
		peak, best := 0, math.Inf(-1)
		for i, v := range work {
			if e := v - fitTolerance*(orig[i]-v); e > best {
				peak, best = i, e
			}
		}
		if best <= threshold {
			break
		}
		top := work[peak]

		amp, offset := seed(work, peak)
		dist := d.fit(work, peak, amp, offset, seedSigma, p.DecomposeIterations)
		subtract(work, dist)
		// A poor fit must not leave the same maximum for the next round.
		if work[peak] > top/2 {
			work[peak] = 0
		}

		if dist.Amplitude > threshold {
			dst = append(dst, dist)
		}
	}
	return dst
}

// seed estimates amplitude and sub-bin offset of the peak at i by fitting a
// parabola to the logarithm of the three bins around it.
func seed(work []float64, i int) (amp, offset float64) {
	n := len(work)
	c := work[i]
	l := work[(i+n-1)%n]
	r := work[(i+1)%n]
	if l <= 0 || r <= 0 || n < 3 {
		return c, 0
	}
	ll, lc, lr := math.Log(l), math.Log(c), math.Log(r)
	den := ll - 2*lc + lr
	if den >= 0 {
		return c, 0
	}
	offset = 0.5 * (ll - lr) / den
	offset = math.Max(-0.5, math.Min(0.5, offset))
	return math.Exp(lc - 0.25*(ll-lr)*offset), offset
}

// gauss evaluates a*exp(-x^2/(2s^2)).
func gauss(x, a, s float64) float64 {
	return a * math.Exp(-x*x/(2*s*s))
}

// signedOffset returns x - center wrapped into [-n/2, n/2).
func signedOffset(x, center float64, n int) float64 {
	fn := float64(n)
	d := math.Mod(x-center, fn)
	if d < -fn/2 {
		d += fn
	} else if d >= fn/2 {
		d -= fn
	}
	return d
}

func wrap(x float64, n int) float64 {
	fn := float64(n)
	x = math.Mod(x, fn)
	if x < 0 {
		x += fn
	}
	if x >= fn {
		x = 0
	}
	return x
}

// fit refines (amplitude, mean, sigma) around the seed bin with a damped
// Gauss-Newton (Levenberg-Marquardt) iteration over a circular window.
func (d *Decomposer) fit(work []float64, peak int, amp, offset, sigma float64, iterations int) Distribution {
	n := len(work)
	half := int(math.Ceil(3 * sigma))
	half = max(1, min(half, (n-1)/2))
	m := 2*half + 1

	if cap(d.xs) < m {
		d.xs = make([]float64, m)
		d.ys = make([]float64, m)
	}
	xs, ys := d.xs[:m], d.ys[:m]
	for k := range m {
		rel := k - half
		xs[k] = float64(rel)
		ys[k] = work[(peak+rel+n)%n]
	}

	if d.jac == nil || d.jac.RawMatrix().Rows != m {
		d.jac = mat.NewDense(m, 3, nil)
		d.res = mat.NewVecDense(m, nil)
	}

	// Parameters relative to the seed bin.
	a, mu, s := amp, offset, sigma
	cost := d.residuals(xs, ys, a, mu, s)
	damp := initialDamp
	maxShift := float64(half)

	for range iterations {
		for k, x := range xs {
			dx := x - mu
			e := math.Exp(-dx * dx / (2 * s * s))
			d.jac.Set(k, 0, e)
			d.jac.Set(k, 1, a*e*dx/(s*s))
			d.jac.Set(k, 2, a*e*dx*dx/(s*s*s))
		}
		d.jtj.Mul(d.jac.T(), d.jac)
		d.grad.MulVec(d.jac.T(), d.res)
		for j := range 3 {
			d.jtj.Set(j, j, d.jtj.At(j, j)*(1+damp))
		}
		if err := d.step.SolveVec(&d.jtj, &d.grad); err != nil {
			damp *= 10
			if damp > maxDampScale {
				break
			}
			continue
		}

		na := a + d.step.AtVec(0)
		nmu := mu + d.step.AtVec(1)
		ns := s + d.step.AtVec(2)
		if na <= 0 || ns < minSigma || ns > float64(n) || math.Abs(nmu) > maxShift || math.IsNaN(na+nmu+ns) {
			damp *= 10
			if damp > maxDampScale {
				break
			}
			continue
		}

		nc := d.residuals(xs, ys, na, nmu, ns)
		if nc > cost {
			// Restore residuals for the accepted parameters.
			d.residuals(xs, ys, a, mu, s)
			damp *= 10
			if damp > maxDampScale {
				break
			}
			continue
		}

		moved := math.Abs(na-a) + math.Abs(nmu-mu) + math.Abs(ns-s)
		a, mu, s, cost = na, nmu, ns, nc
		damp = math.Max(damp/10, 1e-12)
		if moved < convergedAt {
			break
		}
	}

	return Distribution{
		Amplitude: a,
		Mean:      wrap(float64(peak)+mu, n),
		Sigma:     s,
	}
}

// residuals fills d.res with y - model and returns the squared error.
func (d *Decomposer) residuals(xs, ys []float64, a, mu, s float64) float64 {
	var cost float64
	for k, x := range xs {
		r := ys[k] - gauss(x-mu, a, s)
		d.res.SetVec(k, r)
		cost += r * r
	}
	return cost
}

// subtract removes dist from the circular spectrum, clamping at zero.
func subtract(work []float64, dist Distribution) {
	n := len(work)
	for i := range work {
		x := signedOffset(float64(i), dist.Mean, n)
		work[i] = math.Max(0, work[i]-gauss(x, dist.Amplitude, dist.Sigma))
	}
}
