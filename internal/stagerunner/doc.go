// Package stagerunner executes the external commands behind pipeline
// stages. Each stage is a configured command template expanded with
// per-job paths and parameters, run under a timeout with graceful
// termination, and checked for the outputs it promised to produce.
package stagerunner
