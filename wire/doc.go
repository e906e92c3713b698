// Package wire defines the JSON shapes exchanged with an agent backend:
// realtime event envelopes, persisted tool actions, and the REST history
// payloads. Both the client facade and the bundled backend build on these
// types, so the two sides cannot drift apart.
//
// Envelopes travel over a single websocket connection. Each describes one
// step of a tool invocation (tool_start, progress_update, tool_result) and
// optionally names the conversation it belongs to; envelopes without a
// conversation_id are broadcast to every subscriber. The transport stamps
// ReceivedAt on arrival so downstream folding never consults the clock.
package wire
