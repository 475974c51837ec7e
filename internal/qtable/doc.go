// Package qtable is a tabular state-action value store trained with TD(λ).
//
// Update applies one temporal-difference step with replacing eligibility
// traces: every recently visited pair shares the TD error in proportion to
// its trace, traces decay by γλ and are pruned below 1e-4. The table is
// bounded; when it grows past MaxSize the entries with the smallest
// absolute value are evicted first.
//
// Eligibility traces span calls to Update. The table knows nothing about
// episodes, so callers must call ResetTraces at episode boundaries.
//
// All methods are safe for concurrent use. Each call is atomic on its own;
// a read followed by an Update is not.
package qtable
