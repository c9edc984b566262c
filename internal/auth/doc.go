// Package auth provides the user directory and session tokens for Seedgate.
//
// It implements:
//   - Argon2id password hashing in PHC string format
//   - Stateless HS256 session tokens that expire after seven days
//   - A SQLite-backed user directory keyed by username
//   - The initial-user gate that opens registration while no user exists
//
// Each user points at one torrent client, either over TCP (NetworkTarget)
// or a Unix socket (SocketTarget). The Directory reports every create,
// update and removal to a ServiceLifecycle so the matching backend
// connection can be started, reconfigured or torn down.
//
// Logging out only clears the client's cookie. A token stays valid until it
// expires because nothing is stored server-side.
package auth
