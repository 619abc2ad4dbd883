// Package trcb defines the wire-level types and interfaces of a Transitive Reliable Causal
// Broadcast engine:
//   - Vector clocks and the causal dominance relation used to gate delivery.
//   - Messages and their wire encoding (Cast/Ack frames).
//   - The Transport contract consumed from an external peer-service, and the Receiver
//     contract a broadcast actor must expose to it.
//
// The actual single-threaded broadcast actor that ties these together lives in the
// sibling broadcast package. trcb itself has no actor, no goroutines, and no I/O: it is
// the shared vocabulary between the actor and its transport, mirroring how rebro
// separates protocol types from the gossip package that drives them.
package trcb
