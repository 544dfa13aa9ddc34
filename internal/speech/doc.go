// Package speech talks to a Deepgram-compatible REST API: streaming
// text-to-speech for the radio hosts and prerecorded transcription for the
// user's voice.
package speech
