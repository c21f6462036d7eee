// Package session is the lifecycle front door of the subsystem. The Manager
// enforces the session state machine (active, inactive, archived), tracks the
// current session, and coordinates the config loader, engine pool and message
// synchronizer so that entering a session always yields a configured engine
// with its persisted history restored.
//
// Lifecycle transitions emit events to registered listeners synchronously and
// in registration order. Listeners observe transitions; they cannot veto them,
// and a panicking listener is recovered and logged.
package session
