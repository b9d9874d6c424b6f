// Package treasury implements the transfer authority, the only component that moves funds out
// of a treasury account.
//
// Each call to Execute is checked, in order, against the lockdown switch, the account policy,
// the approval proof and the daily usage ledger before the signing key is decrypted and handed to
// the broadcaster for the duration of a single call. Reservations are committed when the
// broadcaster accepts the transfer and released when it positively did not. When the outcome
// cannot be established the reservation stays in place and the failure is marked for manual
// reconciliation.
//
// Approval proofs are daily codes derived from a shared secret (see package approval). They are
// a placeholder and do not provide multi-party control.
package treasury
