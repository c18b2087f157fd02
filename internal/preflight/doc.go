// Package preflight provides readiness checks for the image provider, the
// image store and the filesystem paths Atelier depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs a warning per failed check.
//     Failures do not stop the daemon; the affected items fail with the
//     provider's own error instead.
//   - The CLI "atelier status" command prints the results alongside queue
//     health.
package preflight
