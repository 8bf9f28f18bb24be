// Package campaign implements the campaign lifecycle orchestrator.
//
// The orchestrator owns every Campaign and Prospect status transition:
// start/pause/resume commands, the automatic completion check, and the
// scheduling of send jobs onto the delivery queue. It depends on the Store
// interface defined in this package and should never import from api/.
//
// Store implementations live in repository/postgres/.
package campaign
