// Package registry holds the process-wide room membership state: which
// connection is which participant, and which participants are in which room.
//
// Rooms are created by the first Join and removed by the Leave that empties
// them; the registry never holds an empty room.
package registry
