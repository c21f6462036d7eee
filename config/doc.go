// Package config implements the configuration loader: it resolves the Config
// record governing a session (session-specific, then per-user default, then
// system default, lazily creating the latter), validates configs before they
// reach engine construction, and caches resolved records with a TTL.
package config
