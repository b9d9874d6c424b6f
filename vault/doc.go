// Package vault implements the encrypted credential store.
//
// Each treasury account has exactly one record holding its sealed signing key, its security
// level and descriptive metadata. Records are sealed by a cryptoutils.Box and persisted through
// any storage.RecordBackend.
//
// Get and Put consult the lockdown switch before touching a record and journal exactly one
// event each, whatever the outcome. List exposes metadata only and keeps working during a
// lockdown so operators can inspect the vault.
package vault
