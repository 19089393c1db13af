// Package api exposes the relay over HTTP: SSE streaming runs, one-shot
// queries, queued runs backed by the task package, preset and provider
// listings, health and Prometheus metrics.
package api
