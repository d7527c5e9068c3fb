// Package server is the relay's connection lifecycle handler and HTTP surface.
//
// A Hub owns the connection registry and routes decoded events from each
// Client to the chat manager and voice relay. Server authenticates WebSocket
// handshakes, serves the history API and manages the HTTP listener.
package server
