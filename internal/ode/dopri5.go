package ode

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Dormand–Prince 5(4) Butcher tableau.
var (
	dpC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dpA = [6][]float64{
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// Fifth-order weights; identical to the last row of dpA (FSAL).
	dpB = []float64{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84, 0}
	// Fourth-order embedded weights.
	dpBHat = []float64{5179.0 / 57600, 0, 7571.0 / 16695, 393.0 / 640, -92097.0 / 339200, 187.0 / 2100, 1.0 / 40}
)

const dpOrder = 5

var dpE = func() []float64 {
	e := make([]float64, len(dpB))
	floats.SubTo(e, dpB, dpBHat)
	return e
}()

func dopri5[B tensor.Backend](f *counter[B], y0 State[B], t0, t1 float64, opts Options) (State[B], Stats, error) {
	var st Stats
	dir := math.Copysign(1, t1-t0)

	k1 := f.Eval(t0, y0)
	h := dir * initialStep(f, y0, k1, t0, dir, opts)

	t, y := t0, y0
	for t != t1 {
		if st.Steps+st.Rejected >= opts.MaxSteps {
			return nil, st, fmt.Errorf("%w: %d steps at t=%g", ErrMaxSteps, opts.MaxSteps, t)
		}
		if math.IsNaN(h) || math.Abs(h) <= 1e-12*math.Max(1, math.Abs(t)) {
			return nil, st, fmt.Errorf("%w: h=%g at t=%g", ErrStepUnderflow, h, t)
		}

		last := false
		if (t+h-t1)*dir >= 0 {
			h = t1 - t
			last = true
		}

		ks := make([]State[B], 7)
		ks[0] = k1
		for i := 1; i < 6; i++ {
			ks[i] = f.Eval(t+dpC[i]*h, combine(y, h, dpA[i-1], ks[:i]))
		}
		y1 := combine(y, h, dpA[5], ks[:6])
		ks[6] = f.Eval(t+h, y1)

		ratio := errorRatio(y, y1, ks, h, opts.RTol, opts.ATol)
		accepted := ratio <= 1
		if accepted {
			st.Steps++
			if last {
				t = t1
			} else {
				t += h
			}
			y = y1
			k1 = ks[6]
		} else {
			st.Rejected++
		}
		h *= stepFactor(ratio, accepted, opts)
	}
	return y, st, nil
}

// stepFactor scales the next step from the error ratio of the last attempt.
// An accepted step never shrinks the next one.
func stepFactor(ratio float64, accepted bool, opts Options) float64 {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return opts.DFactor
	}
	if ratio == 0 {
		return opts.IFactor
	}
	lo := opts.DFactor
	if accepted {
		lo = 1
	}
	factor := opts.Safety * math.Pow(ratio, -1.0/dpOrder)
	return math.Min(opts.IFactor, math.Max(lo, factor))
}

// errorRatio is the RMS over every state component of
// err / (atol + rtol * max(|y0|, |y1|)), with err = h * sum_j e_j k_j.
func errorRatio[B tensor.Backend](y0, y1 State[B], ks []State[B], h, rtol, atol float64) float64 {
	scaled := make([]float64, 0, y0.NumElements())
	for i := range y0 {
		a := y0[i].Raw().AsFloat32()
		b := y1[i].Raw().AsFloat32()
		kd := make([][]float32, len(ks))
		for j := range ks {
			if dpE[j] != 0 {
				kd[j] = ks[j][i].Raw().AsFloat32()
			}
		}
		for n := range a {
			var e float64
			for j, c := range dpE {
				if c != 0 {
					e += c * float64(kd[j][n])
				}
			}
			tol := atol + rtol*math.Max(math.Abs(float64(a[n])), math.Abs(float64(b[n])))
			scaled = append(scaled, h*e/tol)
		}
	}
	return rms(scaled)
}

func rms(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2) / math.Sqrt(float64(len(v)))
}

// initialStep picks the first step magnitude with the heuristic of Hairer,
// Nørsett and Wanner (Solving ODEs I, II.4). It costs one evaluation of f,
// made with recording paused.
func initialStep[B tensor.Backend](f *counter[B], y0, f0 State[B], t0, dir float64, opts Options) float64 {
	n := y0.NumElements()
	scale := make([]float64, 0, n)
	yv := make([]float64, 0, n)
	fv := make([]float64, 0, n)
	for i := range y0 {
		fd := f0[i].Raw().AsFloat32()
		for j, v := range y0[i].Raw().AsFloat32() {
			scale = append(scale, opts.ATol+opts.RTol*math.Abs(float64(v)))
			yv = append(yv, float64(v))
			fv = append(fv, float64(fd[j]))
		}
	}
	floats.Div(yv, scale)
	floats.Div(fv, scale)
	d0, d1 := rms(yv), rms(fv)

	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}

	var f1 State[B]
	autodiff.NoGrad(y0[0].Backend(), func() {
		trial := make(State[B], len(y0))
		for i := range y0 {
			raw := y0[i].Raw().Clone()
			data := raw.AsFloat32()
			for j, d := range f0[i].Raw().AsFloat32() {
				data[j] += float32(dir * h0 * float64(d))
			}
			trial[i] = tensor.New[float32](raw, y0[i].Backend())
		}
		f1 = f.Eval(t0+dir*h0, trial)
	})

	diff := make([]float64, 0, n)
	for i := range f0 {
		a := f0[i].Raw().AsFloat32()
		for j, v := range f1[i].Raw().AsFloat32() {
			diff = append(diff, float64(v)-float64(a[j]))
		}
	}
	floats.Div(diff, scale)
	d2 := rms(diff) / h0

	var h1 float64
	if m := math.Max(d1, d2); m <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/m, 1.0/dpOrder)
	}
	return math.Min(100*h0, h1)
}
