// Package protocol implements the WebSocket message envelope spoken between the
// game server and its clients. Text frames carry JSON control messages; binary
// frames carry raw PCM16 audio (TTS output downstream, user voice upstream).
package protocol
