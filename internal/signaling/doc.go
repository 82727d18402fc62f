// Package signaling is the WebSocket transport for the room relay.
//
// Each accepted socket becomes a relay.Conn with its own bounded send queue
// and write pump, so a slow client never stalls the engine or other clients.
package signaling
