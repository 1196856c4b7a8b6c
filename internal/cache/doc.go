// Package cache holds the synthesized audio of one playback session, keyed
// by chunk index. Clips are created lazily, synthesis for an index is never
// duplicated, and every clip is released together when the session ends.
package cache
