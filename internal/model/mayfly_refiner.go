package model

import (
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// brlenRefiner polishes a branch-length vector with the external Mayfly
// metaheuristic. Branch-length surfaces are smooth but the refiner treats
// them as a black box, which keeps it usable for any landscape shape.
type brlenRefiner struct {
	maxIters int
	popSize  int
	seed     int64
}

func newBrlenRefiner(maxIters, popSize int, seed int64) *brlenRefiner {
	return &brlenRefiner{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Refine minimizes eval over dim branch lengths within [lower, upper] and
// returns the best vector found with its cost. The seeded RNG keeps repeated
// runs reproducible.
func (r *brlenRefiner) Refine(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()

	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = r.maxIters
	config.NPop = r.popSize

	config.LowerBound = lower
	config.UpperBound = upper

	config.Rand = rand.New(rand.NewSource(r.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		// Fall back to the lower bound if optimization fails
		fallback := make([]float64, dim)
		for i := range fallback {
			fallback[i] = lower
		}
		return fallback, eval(fallback)
	}

	return result.GlobalBest.Position, result.GlobalBest.Cost
}
