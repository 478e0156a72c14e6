// Package mysql opens the shared MySQL pool, applies the embedded schema
// migrations and hosts the x402 payment ledger.
package mysql
