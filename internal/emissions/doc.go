// Package emissions provides the business boundary for plume's emissions event
// tracking. It defines the domain models, the Store interface (persistence),
// the triage/SLA evaluator, the action log and runbook projections, and the
// Service that merges them into caller-facing event views.
package emissions
