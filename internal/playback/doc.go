// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package playback implements time-controlled replay of recorded telemetry.
//
// # Components
//
//   - TimeTracker converts logical record times into wall-clock deadlines
//     for a given speed, and throttles time broadcasts.
//   - Source is the backing store being replayed. The variants are fixed:
//     Generator (synthetic data), LogReader (any backlog.Log, usually
//     badger), and CustomLoader (records produced by a Loader, e.g. DuckDB).
//     All variants share one state machine and cursor engine.
//   - Controller serializes control requests and driving-loop ticks behind
//     one mutex and forwards emitted frames to an Emitter.
//   - Loop drives a Controller, sleeping in short preemptible slices.
//
// # State machine
//
//	Paused --Play--> Playing --Pause--> Paused
//	Playing --end of data--> Ended
//	Ended  --Seek--> Paused
//	Ended  --Play--> Ended (no-op)
//
// # Pacing
//
// AdvanceOrWait never blocks. It either commits the next record, reports
// how long until the next record is due, or reports that there is nothing
// to do. Time is read from an injected clock (github.com/benbjohnson/clock)
// so pacing can be tested without sleeping.
//
// # Concurrency
//
// Sources and trackers are not safe for concurrent use; the Controller owns
// them. Emitter methods are invoked with the controller lock held and must
// not block.
package playback
