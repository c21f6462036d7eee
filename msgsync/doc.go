// Package msgsync keeps each engine's volatile in-memory history
// synchronized with the durable message log. It persists messages, rebuilds
// engine history from storage after eviction or restart, clears history on
// explicit resets and maintains session statistics (message count, last
// activity, token totals).
package msgsync
