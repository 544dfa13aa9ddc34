// Package mission defines the domain types of a propaganda mission: the topic,
// the Stage1 generation result (summary, proof sentences, speakers), the
// Stage2 dialogue briefing, and the awakened-listeners score tracked during the
// live broadcast.
package mission
