// Package model defines the provider-agnostic abstractions for streaming
// model calls inside agentstream.
//
// Core goals:
//   - Carry requests in the provider wire shape (Message, Block) so content
//     normalized upstream reaches the provider untouched
//   - Surface the raw provider event stream (Event) for the translator
//   - Rebuild the assistant turn from that stream (Accumulator)
//   - Facilitate scripted streams for tests (MockModel)
//
// Providers (e.g. Anthropic, OpenAI) implement the Model interface so higher
// layers (runner, stream) remain decoupled from vendor SDKs.
package model
