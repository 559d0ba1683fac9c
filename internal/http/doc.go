// Package http provides the on-demand HTTP API of the booking guard service.
//
// The router exposes the following endpoints:
//   - GET /healthz: liveness check, responds with plain text "ok".
//   - POST /v1/users/{email}/scans: runs a scan for a roster user and returns the
//     `scanReportDTO` defined in scan_handler.go. Unknown users yield 404 and a scan
//     already running for the user yields 409.
//   - GET /v1/users/{email}/scans?limit=N: most recent scan summaries, newest first.
//   - POST /v1/conflicts/check: body {"user","candidates","existing"} in the
//     normalized session shape; responds with the annotated candidates. No side effects.
//   - GET /v1/submissions?user=&window_past_days=N: submission log entries within the
//     retention window.
//
// Every /v1 route requires an `Authorization: Bearer <token>` header whose token
// matches the configured bcrypt hash.
package http
