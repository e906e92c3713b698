// Package timeline reconciles the two sources of truth about a conversation
// into one ordered sequence: persisted messages fetched over REST, and live
// tool invocations folded from the realtime channel.
//
// The merged sequence is recomputed wholesale whenever either input changes;
// a full recompute is cheap at conversation scale and can never disagree
// with its inputs.
package timeline
