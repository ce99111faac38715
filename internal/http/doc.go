// Package http exposes the check-in gateway to UI collaborators.
//
// The router serves the following endpoints:
//   - GET /attendees, POST /attendees {"name","group"}: list and register
//     attendees. DELETE /attendees?confirm=true clears them (admin).
//   - PUT /attendees/{id}/presence {"present"}: mark an attendee present or
//     absent. DELETE /attendees/{id}: remove one attendee; unknown ids succeed.
//   - GET /surveys, POST /surveys: list and submit survey responses.
//     DELETE /surveys?confirm=true clears them (admin).
//   - GET /snapshot: export every record. PUT /snapshot?confirm=true: replace
//     every record with the uploaded snapshot (admin).
//   - GET /stats: attendance and NPS summaries.
//   - GET /status, POST /connectivity/online, POST /connectivity/offline:
//     storage status and connectivity transitions.
//   - POST /draws/groups {"groups","size"}, POST /draws/prize: drawings among
//     present attendees.
//   - GET /events: server-sent events carrying change, notice and status
//     events.
//
// Admin routes require the X-Admin-Password header.
package http
