// Package runner implements the orchestration loop of agentstream.
//
// A Runner turns one chat request into a stream of normalized events:
//   - clamps generation parameters (thinking budget floor, effort levels)
//   - annotates the latest user turn for prompt caching once a conversation
//     is long enough
//   - assembles the tool set from explicit capabilities and asserts unique
//     names
//   - streams model turns, executing requested client tools concurrently,
//     until the model finishes or the iteration cap is hit
//   - ends every run with exactly one terminal event (done or a classified
//     error) unless the consumer went away first
//
// Public methods are safe for concurrent use.
package runner
