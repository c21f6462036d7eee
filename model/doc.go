// Package model defines the unified interface engines use to drive text
// generation, decoupled from any concrete vendor SDK. Provider adapters live
// in sub-packages (anthropic, openai); a deterministic MockModel is provided
// for tests and examples.
package model
