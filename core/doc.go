// Package core provides the foundational domain types and small interfaces
// shared by every lang2file package:
//
//   - Content / Part (role based model input and output, including tool calls)
//   - Message and ConversationStore (bounded per-session conversation memory)
//   - ToolContext (the scoped surface a capability sees while executing)
//   - Stage errors (ClassificationError, SelectionError, CompletionError)
//
// Implementation concerns (providers, stores, orchestration) live in sibling
// packages so that this package carries no provider or storage dependencies.
package core
