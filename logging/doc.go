// Package logging provides a tiny abstraction over slog so the session,
// pool and sync packages can depend on a minimal interface (Logger) while
// allowing users to plug any structured logger. It also offers a richer
// SessionLogger with contextual helpers (session, component) and domain
// specific helpers for model calls and engine lifecycle.
package logging
