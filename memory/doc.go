// Package memory contains the process-local core.DocumentStore used to back
// the memory tool. The store interface resides in the core package; select an
// implementation (this one, or store/sqlite for durability) at wiring time.
package memory
