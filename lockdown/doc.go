// Package lockdown implements the emergency lockdown switch consulted before every vault
// and transfer operation.
//
// The state lives in one authoritative sentinel: the EMERGENCY_LOCKDOWN file in the vault
// directory, a row of the shared SQLite database, or memory. The switch re-reads it on every
// call, so a lockdown set by another process takes effect immediately. A sentinel that
// cannot be read counts as locked.
package lockdown
