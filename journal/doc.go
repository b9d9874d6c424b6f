// Package journal implements the append-only access journal.
//
// Every vault and transfer operation appends exactly one terminal event. Events get
// monotonically increasing log ids and are written to an AuditSink: a JSON-lines file
// (access.log), the audit_events table of the shared SQLite database, or memory.
//
// Append never returns an error. A sink write is retried a bounded number of times with
// exponential backoff; if it still fails the event is dropped with a warning log and the
// journal_write_failures_total metric is incremented.
package journal
