// Package broadcaster contains signer/broadcaster implementations that the transfer authority
// hands decrypted key material to.
//
// Mock accepts every submission (or fails on demand) and is used by tests and dry runs.
// The ethereum subpackage signs ERC-20 calls and submits them to an Ethereum JSON-RPC node.
package broadcaster
