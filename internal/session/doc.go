// Package session coordinates one video-coaching workflow: upload, analysis
// with coaching feedback, and follow-up chat.
//
// All state lives in a Session value. Reduce is the pure transition
// function; Machine performs the remote calls, commits their outcomes
// through Reduce and fans snapshots out to subscribers.
package session
