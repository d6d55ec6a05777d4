// Package config loads, normalizes, and validates covermill configuration
// data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// COVERMILL_API_TOKEN. The Config type centralizes every knob the daemon and
// CLI need: asset and log directories, per-stage command templates and
// timeouts, worker counts, and the result retention policy.
//
// Downstream code should obtain settings through Load so paths arrive
// expanded and validation has already run.
package config
