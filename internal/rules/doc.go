// Package rules validates promotion datasets against a configured column
// schema.
//
// Each rule is evaluated over a whole column at once and produces a boolean
// failure mask; masks are computed concurrently and folded, in rule order,
// into the IsValid and ValidationErrors columns of the validated dataset.
// A row-wise strategy with per-row panic recovery is kept alongside for
// equivalence checks and for inputs whose cells cannot be trusted.
package rules
