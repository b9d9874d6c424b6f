// Package main (cmd/treasury-server) runs the treasury HTTP service.
//
// With kms-type simple the master secret is read from TREASURY_MASTER_KEY and the service
// is ready immediately. With kms-type shamir the server starts sealed: treasury routes and
// /readyz answer 503 until enough administrators have submitted their shares to
// /api/admin/unseal/share (see treasuryctl unseal). Once unsealed the vault stack is opened,
// a health check is logged and usage records are pruned daily.
package main
