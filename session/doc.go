// Package session houses the in-memory core.ChatStore. The interface itself
// (and the Chat struct) live in the core package; store/sqlite provides the
// durable backend. Only the wiring layer decides which one to instantiate.
package session
