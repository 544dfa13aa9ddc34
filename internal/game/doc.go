// Package game runs live broadcasts. A Session streams generated host
// dialogue and speech to one connected player and feeds the player's text or
// voice back into the next dialogue batch. The Manager owns one session per
// mission and reaps idle ones.
package game
