// Package engine contains the concrete core.Engine implementation: a
// ChatEngine that binds a model provider client, a system prompt and a
// bounded in-memory conversation history for exactly one session. Engines
// are expensive to construct; the pool package owns their lifecycle.
package engine
