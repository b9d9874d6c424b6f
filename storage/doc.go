// Package storage provides record backends for sealed credential records.
//
// A record backend keeps exactly one opaque byte record per account identifier.
// The vault package serialises and seals records; backends never see plaintext
// key material.
//
//   - File system storage, one <account>.vault file per account (mode 0600)
//   - SQLite storage in the credential_records table of the shared database
//   - S3-compatible storage with private ACL and server-side encryption
//   - Vault storage in a KV v2 secret engine
//   - Memory storage for tests and dry runs
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/treasury/vaults/
//   - sqlite:///var/lib/treasury/treasury.db
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.example.com:8200/secret/treasury?tls=true
//   - memory://name
//
// # Multi-Backend Example
//
// A comma-separated list of URIs builds a MultiStorageBackend which writes to
// every available backend and reads from the first one holding the record:
//
//	factory := storage.NewStorageBackendFactory(logger, db)
//	backend, err := factory.StorageBackendFor("file:///var/lib/treasury/vaults,sqlite:///var/lib/treasury/treasury.db")
//	if err != nil {
//	    log.Fatalf("Failed to create storage backend: %v", err)
//	}
package storage
