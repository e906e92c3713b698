// Package realtime owns the lifecycle of the single websocket connection to
// the agent backend.
//
// The Manager is the only component that touches the socket. Consumers
// express interest in conversations (Want/Forget) and receive parsed
// envelopes through a Sink callback; they never see the transport. On an
// unexpected close the manager reconnects after a fixed delay for as long
// as any conversation remains desired, and re-announces the full desired
// set on every open. Transport errors are recovered here and never surface
// to listeners as error values; listeners only observe silence.
package realtime
