// Package store houses concrete implementations of the core repository
// interfaces. The interfaces themselves (and the Session, Message and Config
// records) live in the core package to centralize domain contracts; keeping
// only implementations here prevents higher level packages (pool, session)
// from depending on concrete storage.
//
// The in-memory repositories below are safe for concurrent access and best
// suited for tests or ephemeral demo processes. A durable SQLite backend
// lives in the sqlite subpackage; add further backends (Postgres, Redis,
// ...) in sub-packages without changing any calling code.
package store
