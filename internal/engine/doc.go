// Package engine implements the message dispatcher of the experiment
// server.
//
// ARCHITECTURE:
//
// Single-Writer Request Loop:
// One engine serves one experiment session at a time. Requests are
// handled strictly in arrival order, so no two ask or tell calls ever
// interleave:
//  1. Transports call Submit, which enqueues the request on a FIFO queue
//  2. Engine.Run() dequeues requests one at a time
//  3. Handle routes the request to the versioned or unversioned handler
//  4. The handler reads or writes the trial store and steps the sequencer
//  5. The reply (or error) is delivered back to the submitter
//
// Direct Handle* calls (tests, the scenario harness) are serialized with
// the same mutex as the Run loop.
//
// Session Lifecycle:
// setup creates a Session holding the parsed configuration, the strategy
// sequencer and the experiment id. resume rebuilds a Session from stored
// trials. exit, or any STORE_ERROR, tears the session down.
//
// Tell Durability:
// A tell reply is sent only after the trial store committed the trial.
// The sequencer is advanced after the commit, so a failed write never
// moves the cursor.
package engine
