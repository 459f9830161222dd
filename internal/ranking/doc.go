// Package ranking implements the pairwise ranking and convergence engine
// for song duels.
//
// The engine turns a sparse, noisy set of pairwise outcomes ("A beats B",
// "tie", or an explicit skip) into a latent log-strength per song and a
// single 0-100 convergence score answering "is this ranking settled yet".
//
// Basic Usage:
//
//	cfg := ranking.DefaultSolverConfig()
//
//	// Solve for log-strengths (warm start is optional).
//	strengths := ranking.SolveStrengths(songIDs, outcomes, prior, cfg)
//
//	// Derive display ratings.
//	for id, s := range strengths {
//		ratings[id] = ranking.Rating(s)
//	}
//
//	// Grade how trustworthy the resulting order is.
//	result := ranking.ScoreConvergence(outcomes, songIDs, strengths, cfg)
//
// The solver is a regularized Bradley-Terry maximum-likelihood procedure
// (MM iteration). It is a pure function of its inputs: no persistence, no
// I/O, deterministic for a given input set. Warm-starting only changes
// convergence speed, never the fixed point.
//
// Convergence combines three orthogonal factors: coverage (breadth and
// volume of data), separation (distinguishability and per-song confidence
// of the order), and stability (consistency of the order over recent
// history). Deterministic guard rails cap the score when any song is
// data-starved and floor it when the order has stopped moving.
package ranking
