// Package core provides the foundational domain types of agentstream:
//
//   - Messages and their closed set of content segments (text, image, document)
//   - The normalized StreamEvent vocabulary pushed to clients
//   - Citations, tool invocations and their lifecycle state machine
//   - AgentError, the structured terminal failure of a run
//   - Sinks (push channels) and the store interfaces consumed by tools
//
// The package keeps implementation concerns (provider adapters, persistence,
// transport) out of scope and exposes small interfaces instead.
package core
