// Package config holds the TREASURY_* flags shared by the treasury binaries and turns them
// into a validated Config.
//
// Journal, lockdown and ledger locations are URIs: file://, sqlite:// and memory:// for all
// three, redis:// for the ledger only. sqlite:// locations share the database named by
// --database.
package config
