// Package ledger implements the daily usage ledger that enforces per-account spending
// ceilings.
//
// TryReserve atomically checks committed + reserved + amount <= limit for one
// (account, date) pair and holds the amount under a single-use token. Commit moves the hold
// into the committed total; Release drops it. Dates are YYYY-MM-DD keys produced by
// interfaces.DateKey.
//
// Three implementations share the contract:
//
//   - MemoryLedger: one process, mutex protected
//   - SQLLedger: the shared SQLite database, serialised on the single writer connection
//   - RedisLedger: several processes, check-and-increment in a Lua script
//
// Old days are removed with Prune. The server prunes records older than
// DefaultRetentionDays once a day.
package ledger
