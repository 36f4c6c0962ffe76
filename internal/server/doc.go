// Package server implements the presence-aware relay: the session registry,
// the per-connection login state machine, message routing and presence
// broadcast, and the HTTP/WebSocket surface in front of them.
//
// The implementation is organized into specialized files for configuration,
// the hub, clients, the registry, routing, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
