// Package model defines the provider-agnostic abstractions used to talk to
// language models.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (openai, anthropic) implement Model so the router and flow
// packages stay decoupled from vendor SDKs. Collect drains a generation into
// its final response for callers that need a single answer.
package model
