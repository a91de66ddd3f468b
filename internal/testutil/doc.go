// Package testutil contains helpers shared by tests across packages, most
// notably ScriptedModel, a deterministic model.Model that replays scripted
// turns and records every request it receives. Not intended for production
// usage.
package testutil
