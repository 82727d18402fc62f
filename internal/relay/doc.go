// Package relay implements the room signaling engine: it turns inbound
// connection events into registry mutations and fans the resulting
// notifications out to the right connections.
//
// The engine never inspects negotiation payloads (offers, answers, ICE
// candidates); it only routes them by target connection id.
package relay
