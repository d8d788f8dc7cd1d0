// Package metrics exposes Prometheus collectors for coven-assistant.
//
// Collectors live on a per-instance registry served by Handler. The gateway
// records request counts and latency, agent run outcomes, and streamed event
// types; the conversation service reports thread creations and message
// appends through the conversation.Observer methods.
package metrics
