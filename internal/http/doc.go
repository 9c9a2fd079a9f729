// Package http exposes the desk scheduler over a JSON API.
//
// The router exposes the following endpoints. Every endpoint except /healthz
// requires the caller's opaque user id in the X-User-ID header.
//   - POST /reservations: books a desk. Body: reservationRequest. Recurring
//     requests report created occurrences and skipped conflicts.
//   - GET /reservations: the caller's reservations, filtered by desk_id,
//     status (comma separated), from and to (RFC 3339).
//   - GET /reservations/current, GET /reservations/upcoming: the caller's
//     reservation covering now and those starting later.
//   - GET /reservations/calendar: Active reservations overlapping start/end,
//     optionally for one desk. GET /reservations/calendar.ics renders the
//     caller's Active reservations as iCalendar.
//   - GET /reservations/{id}; POST /reservations/{id}/check-in|cancel|complete|no-show:
//     lifecycle actions. A refused action answers 409.
//   - GET /desks, POST /desks, GET /desks/{id}: desk catalog.
//   - GET /desks/available: desks free for date (YYYY-MM-DD), time_from and
//     time_to (HH:MM), narrowed by area and type.
//   - PUT /desks/{id}/maintenance: Body {"enabled": bool}.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
