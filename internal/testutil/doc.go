// Package testutil contains internal helpers for constructing scripted
// provider event streams in tests. Not part of the public API.
package testutil
