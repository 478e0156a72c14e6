// Package agent assembles the A2A agent runtime: the ERC-8004 identity,
// the task pipeline, x402 priced skills and the built-in skill handlers.
package agent
