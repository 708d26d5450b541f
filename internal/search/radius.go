package search

// RadiusLimitAdaptive maps an instance difficulty in [0,1] to the SPR radius
// ceiling. The mapping is triangular, peaking at difficulty 0.5: both very
// easy and very hard instances get a small ceiling, intermediate ones get a
// wide search. Callers still cap the result by tipCount-3.
func RadiusLimitAdaptive(difficulty float64) int {
	if difficulty <= 0.5 {
		return int(30*difficulty + 5)
	}
	return int(-30*difficulty + 35)
}

// RadiusStepAdaptive picks the window step width from the radius ceiling.
// Small ceilings are covered in a single window; larger ones are split into
// halves, thirds or quarters. Thorough (slow) mode uses one fewer bucket
// boundary than fast mode because each of its rounds is far more expensive.
func RadiusStepAdaptive(radiusLimit int, thorough bool) int {
	if thorough {
		switch {
		case radiusLimit <= 7:
			return radiusLimit
		case radiusLimit <= 13:
			return radiusLimit/2 + 1
		default:
			return radiusLimit/3 + 1
		}
	}
	switch {
	case radiusLimit <= 5:
		return radiusLimit
	case radiusLimit <= 10:
		return radiusLimit/2 + 1
	case radiusLimit <= 15:
		return radiusLimit/3 + 1
	default:
		return radiusLimit/4 + 1
	}
}

// window is a [min,max] radius range bounding one topology-search round.
type window struct {
	min, max int
}

func (w window) advance(step int) window {
	return window{min: w.min + step, max: w.max + step}
}

// nextWindow is the decision function for the fast adaptive stage: given the
// absolute and relative gain of the round just finished, it returns the
// window for the next round and whether the loop continues.
//
// The loop continues while the gain beats epsilon AND the relative gain is at
// least 0.1%. Two widening rules apply independently of that condition:
// intermediate-difficulty instances that would otherwise stop while still at
// the initial single-step window get one forced extra round with the window
// advanced; and any round whose relative gain is at most 1% advances the
// window as long as the ceiling has not been reached.
func nextWindow(w window, gain, relGain, epsilon float64, step, limit int, intermediate bool) (window, bool) {
	improved := gain > epsilon
	cont := improved && relGain >= 1e-3

	if !cont && intermediate && w.max == step && step < limit {
		return w.advance(step), true
	}

	if relGain <= 0.01 && w.min+step < limit {
		w = w.advance(step)
	}
	return w, cont
}
