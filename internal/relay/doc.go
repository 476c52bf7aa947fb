// Package relay assembles the coven-relay process.
//
// New builds every component from configuration: the conversation store,
// the outbound queue, the delivery worker, the completion service, the draft
// store and handoff, optional audio (transcription, speech, samples), and the
// operator frontend. Run loads conversations from storage, then serves HTTP,
// drives the delivery worker, and listens for operator commands until the
// context is cancelled.
//
// Relay also implements the operator actions and the API backend, so the
// Matrix commands and the HTTP routes share one code path.
package relay
