// Package core centralizes the domain contracts of sessionmesh: the Session,
// Message and Config records, the Engine interface, the repository
// interfaces backing durable storage, the session lifecycle event types and
// the shared error taxonomy.
//
// The package intentionally keeps implementation concerns (persistence,
// pool management, concrete model providers) out of scope, exposing small
// interfaces so that backends can be swapped at wiring time without touching
// the packages that orchestrate sessions and engines.
package core
