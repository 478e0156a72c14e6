// Package web3 houses blockchain connectivity utilities: the Backend
// interface consumed by the contract wrappers, an ethclient-backed client
// for EVM networks and a provider registry that dials one client per
// configured chain on demand.
package web3
