// Package store provides storage and pub/sub functionality for polling
// session records.
//
// It keeps the in-memory state of every tracked session and implements a
// publish-subscribe pattern so HTTP clients can follow sessions in real time.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [SessionRecord]: Storage representation of a polling session
//
// Records live only as long as the process. Subscribers receive updates via
// channels with non-blocking sends (slow subscribers will miss updates
// rather than block the system).
package store
