// Package api holds the route table of the swarm node HTTP API.
//
// # API Overview
//
// A node serves three groups of endpoints:
//   - Peer endpoints under /api/v1/swarm/, called by other swarm members
//     (delegation intake, RFQs, bids, results, checkpoints, heartbeats)
//   - Operator endpoints under /api/v1/ (distribute, delegations, peers,
//     reputations, contracts, auctions, the local inbox, the event stream)
//   - Health, version and Prometheus metrics
//
// # Authentication
//
// Peer endpoints require the shared swarm token:
//
//	X-Swarm-Token: your-swarm-token
//
// Operator endpoints require a bearer JWT when server.jwt is configured:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Generating Documentation
//
// Handlers carry swag annotations:
//
//	swag init -g cmd/swarmd/main.go -o api --parseDependency --parseInternal
package api
