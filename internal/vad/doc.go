// Package vad provides energy-based voice activity detection for user voice
// input. Each fixed-size window of PCM16 samples is scored by RMS energy,
// smoothed against the previous window and compared to a threshold.
package vad
