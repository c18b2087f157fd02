// Package daemon coordinates the long-running Atelier process.
//
// It wires the queue manager, the workflow processor and the HTTP API into a
// single lifecycle with flock-based locking to prevent multiple instances
// sharing one database. Start runs preflight checks, launches the processor
// (which reclaims orphaned items first) and begins serving the API; Stop
// reverses the order.
//
// The API maps classified errors onto status codes: validation 400, not
// found 404, conflict 409 and everything else 500. Every response carries an
// X-Request-ID header whose value is also attached to log lines written while
// serving the request.
package daemon
