// Package operator is the human-in-the-loop frontend.
//
// Partner messages are announced to the operator with a hint for requesting a
// draft. The operator answers with chat commands:
//
//	!complete <identity> <messageId>   draft a reply up to that message
//	!send <identity> <draftId>         queue the draft as text
//	!audio <identity> <draftId>        queue the draft as a voice note
//	!discard <identity> <draftId>      drop the draft
//	!voice [voiceId]                   show or select the speech voice
//	!voices                            list the voice library
//	!deletevoice <voiceId>             remove a voice from the library
//	!voicesettings <voiceId> <stability> <similarityBoost> <style> <speakerBoost>
//	                                   tune how a voice renders
//	!ping                              liveness check
//
// Matrix carries both directions when configured. Without it, LogNotifier
// writes notifications to the log and the HTTP API is the command surface.
package operator
