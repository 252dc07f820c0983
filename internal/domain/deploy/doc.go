// Package deploy contains the core domain types of a deployment run.
//
// It defines the ordered Step sequence executed against every server, per-step
// and per-server outcomes, the aggregated Report, the BuildRun identity that
// namespaces local and remote artifacts, and the error taxonomy shared by the
// packager, the remote session and the orchestrator.
package deploy
