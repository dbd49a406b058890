// Package deadletter keeps records the sink could not write.
//
// The SQLite repository implements sink.Journal, so the log fail strategy
// stores each failed record with its error kind and message. Stored letters
// can be listed, replayed into the ingest pipeline and deleted through the
// API.
package deadletter
