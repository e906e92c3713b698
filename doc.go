// Package weft reconciles two independent sources of truth about a running
// agent conversation: the persisted record served over REST, and the
// incremental tool-execution updates pushed over a single shared websocket.
//
// A Client owns the realtime connection, multiplexes it across any number
// of conversation subscriptions, collapses repeated progress events into
// coherent per-invocation state, and merges that state with fetched history
// into one chronologically ordered timeline per conversation.
//
// Typical use:
//
//	c, err := weft.New(weft.Options{BaseURL: "http://localhost:3000"})
//	if err != nil { ... }
//	unsub := c.Subscribe(ctx, convoID, func(env wire.Envelope) {
//	    render(c.Timeline(convoID))
//	})
//	defer unsub()
//
//	if err := c.RefreshHistory(ctx); err != nil { ... }
//	render(c.Timeline(convoID))
//
// Transport failures never surface through subscriptions; the connection
// manager reconnects on a fixed interval while demand exists, and with
// Options.RefetchOnReconnect the client re-fetches history after each
// reconnect to reconcile events lost while disconnected.
package weft
