// Package history is the pull side of the conversation view: it fetches the
// persisted record over REST and posts new user messages. The push side
// (live tool updates) is package realtime; the facade reconciles the two.
package history
