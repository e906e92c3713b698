// Package backend is a runnable agent backend matching the contract the
// weft client consumes: REST history at /api/conversations, message intake
// at /api/message, and a websocket realtime channel at /ws.
//
// It exists for demos and end-to-end testing as a stand-in for a real
// agent-execution framework, not a product in itself. Conversations,
// messages, and tool actions persist in SQLite; live envelopes fan out
// through an in-memory hub; a scripted responder emits tool_start /
// progress_update / tool_result sequences so the client pipeline can be
// exercised without any real tools.
package backend
