// ABOUTME: Package documentation for the gateway HTTP surface
// ABOUTME: Explains the split between the JSON API and the SSE stream

// Package gateway exposes the chatseam HTTP API consumed by the website
// widget and the operator dashboard.
//
// The JSON endpoints are thin: validation and shaping live here, while every
// write flows through the ingress coordinator and every read comes straight
// from the store. The one long-lived endpoint is the per-conversation SSE
// stream, which wraps the streamer's frames in SSE wire format.
package gateway
