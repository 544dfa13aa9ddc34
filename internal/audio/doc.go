// Package audio handles PCM16 plumbing for the radio show: sample alignment of
// streamed TTS bytes, accumulation of inbound user voice into analysis windows,
// VAD-driven utterance segmentation and WAV encoding for transcription.
package audio
