/*
Package httpserver exposes the treasury operations API.

The server carries two groups of routes:

  - /api/treasury: health, daily usage and lockdown state. Activating lockdown requires the
    admin bearer token; clearing it is only possible from the command line.
  - /api/admin/unseal: share submission for a Shamir-split master key. Requests are signed by
    a registered administrator with the X-Admin-ID and X-Admin-Signature headers.

While the vault is sealed the treasury routes answer 503 and /readyz reports "sealed".
The handler is installed with SetHandler once the master key is available.

Transfers themselves are not reachable over HTTP.
*/
package httpserver
