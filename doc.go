// Package realtime runs a voice-command session against a realtime speech
// endpoint. A Session streams microphone audio out as JSON text frames,
// plays the synthesized audio it receives, and turns the assistant's
// structured output (inline JSON or function calls) into expense, income
// and time-log commands for a HostBridge.
//
// Transports live under transport/, session bootstrap under bootstrap/ and
// the default HostBridge in ledger/.
package realtime
