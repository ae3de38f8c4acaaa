// Package calibration computes the load cell scale factor from a known
// reference mass. It contains:
//
//   - Factor: the raw-units-per-gram computation and its preconditions
//   - Status: a view model returned by the daemon HTTP API and printed by the CLI
//
// Applying the factor (to the load cell conversion) and resetting dependent
// filters is the caller's job; see scale.Pipeline.Calibrate.
package calibration
