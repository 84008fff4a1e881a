// Package enginehost owns the taigad session endpoint.
//
// Ownership boundary:
// - TCP/TLS accept loop and connection tracking
// - hello handshake, identity binding, engine kind resolution
// - per-session exclusive engine instance and the framed op loop
// - active-run registry and the HTTP admin surface
package enginehost
