// Package broadcast implements the operator broadcast core: content
// quality gating, per-role send cooldowns, the approval workflow,
// scheduled recurrence, the delivery fan-out engine, and the
// orchestrator tying them together.
package broadcast
