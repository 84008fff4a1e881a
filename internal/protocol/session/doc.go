// Package session owns client<->host session transport helpers.
//
// Ownership boundary:
// - hello/hello.ack handshake control messages
// - operation/result/progress wire helpers
// - reconnect backoff and transport security policy
package session
