// Package main (cmd/treasuryctl) is the operator tool for the treasury vault.
//
// It opens the same component stack as treasury-server, configured through the same
// TREASURY_* variables or a .env file, and runs one operation against it. Only kms-type
// simple is supported; vaults sealed with Shamir shares are unsealed by treasury-server.
//
// Commands:
//
//	provision        - Seal one account's key file into the vault
//	migrate          - Seal every <account>-wallet.json of a keys directory
//	list             - List vault records without decrypting them
//	verify           - Decrypt every record and report integrity (exit code 2 when unhealthy)
//	usage            - Show today's usage against the daily limits
//	prune            - Delete usage records older than the retention period
//	events           - Read back the access journal
//	lockdown         - Show, activate or clear the emergency lockdown
//	approval-code    - Print the approval code for an account, operation and day
//	transfer         - Move tokens out of a treasury account
//	burn             - Destroy tokens held by a treasury account
//	release-jackpot  - Pay a won jackpot from the jackpot reserve
//	master-key       - Generate a master secret or split it into admin shares
//	admin            - Generate admin key pairs and the admin keys file
//	unseal           - Query unseal status or submit a share to treasury-server
//
// Transfers whose outcome cannot be determined exit with code 3 and must be reconciled
// against the chain before retrying with a new request id.
//
// Example:
//
//	treasuryctl --env-file=/etc/treasury.env migrate --keys-dir=./keys
//	treasuryctl verify
//	treasuryctl transfer --account=operationsReserve --amount=500 --to=0xabc... --reason="vendor invoice"
package main
