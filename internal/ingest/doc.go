// Package ingest turns bus notifications into queued events.
//
// Intake is the boundary between the knxd listener and the persistence
// engine: it drops telegrams for group addresses missing from the address
// book, decodes the rest into an Envelope and pushes it onto a Queue.
//
//	knx.Listener ──► Intake.Notify ──► Queue ──► persist.Engine
//
// Queue is an unbounded FIFO. Push never waits for the consumer; TryPop
// never blocks. The consumer polls.
package ingest
