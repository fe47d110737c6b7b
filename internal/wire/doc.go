// Package wire defines the messages exchanged between the authority and
// its observers.
//
// Observers receive Envelopes: a WelcomeSnapshot once on join, then one
// delta per state change, each stamped with a strictly increasing sequence
// number. Participants send Intents and get back an IntentResult.
//
// All messages are JSON. Digest computes a content hash over a canonical
// encoding of a snapshot so that an observer can check its projection
// against the authority.
package wire
