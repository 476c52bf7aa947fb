// Package api exposes the relay over HTTP.
//
// Routes:
//
//	POST /api/events                  inbound channel event
//	POST /api/complete                draft a reply up to a message
//	POST /api/drafts/deliver          queue a draft as text or audio
//	POST /api/drafts/discard          drop a draft
//	GET  /api/conversations/{id}      read a conversation
//	GET  /health                      liveness, never authenticated
//	GET  /metrics                     Prometheus exposition, when enabled
//
// Every JSON reply carries an "error" boolean; failures add a "message".
package api
