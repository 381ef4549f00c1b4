// Package session manages active paired chat sessions. It is the source of
// truth for session state transitions: creation on a successful match, the
// single active -> ended transition, and the metadata both participants and
// the background services need to coordinate.
package session
