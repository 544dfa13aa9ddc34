// Package client is the manual test client for the Radio Mirchi API. It
// creates missions, waits for them to become ready, and joins the live
// broadcast: host speech is played through a sink while typed lines or WAV
// files are sent back as the infiltrator.
package client
