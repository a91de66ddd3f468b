// Package memory contains the core.ConversationStore implementations. The
// interface lives in the core package; pick an implementation at wiring time.
//
//   - InMemoryStore keeps conversations in process memory
//   - RedisStore keeps them in Redis lists so several processes can share them
//
// Both keep at most MaxMessages entries per session and evict the oldest
// entries first.
package memory
