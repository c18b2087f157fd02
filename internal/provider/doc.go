// Package provider wraps the external image-generation backends behind a
// single Generate call.
//
// Two kinds are supported: "openai", which uses the OpenAI images API, and
// "http", which posts a JSON request (prompt document, base64 references,
// remix source, flags) to a self-hosted service's /generate endpoint and
// sends the queue item id as an Idempotency-Key header. Failures are
// classified with the services markers: ErrSafety for content-policy
// rejections, ErrTimeout for deadline overruns, ErrProvider for everything
// else the backend reports.
package provider
