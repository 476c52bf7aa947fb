// Package audio handles voice notes in both directions.
//
// Inbound voice notes arrive as base64 data URIs. Transcoder turns them into
// text through a Transcriber (Whisper) with a bounded retry budget, and
// separately converts them into sample files with ffmpeg on a best-effort
// basis.
//
// Outbound audio is rendered by SpeechRenderer: the draft text is synthesized
// to mp3 by ElevenLabs and converted to a channel-compatible Opus file.
package audio
