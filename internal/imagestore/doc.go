// Package imagestore writes generated images to the configured backend: a
// local directory or an S3-compatible bucket.
//
// Detect validates provider output by sniffing its content type and rejects
// anything that is not PNG, JPEG, WebP, or GIF. Images are saved under keys
// derived from the queue item id, so a retried item overwrites its earlier
// object instead of leaving a duplicate behind.
package imagestore
