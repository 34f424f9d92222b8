// Package handler implements the HTTP API of plcmesh.
//
// # Endpoints
//
//	GET  /api/adapters               adapter records in index order
//	GET  /api/adapters/{mac}         one adapter
//	POST /api/adapters/{mac}/restart restart one adapter
//	GET  /api/links                  directed mesh links
//	GET  /api/identities             MAC to index map
//	GET  /api/topology               node/edge view for graph rendering
//	GET  /api/export/{format}        topology download (json, yaml)
//	POST /api/refresh                request immediate presence and stats cycles
//	GET  /api/interfaces             host interfaces the mesh could be on
//
// The event stream (/events) and Prometheus metrics (/metrics) are served by
// the hub and metrics packages and mounted next to these routes.
//
// Errors are returned as JSON with an {error, details} body.
package handler
