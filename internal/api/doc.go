// Package api implements the HTTP gateway for Seedgate Core.
//
// This package provides:
//   - Session endpoints: authenticate, register, verify, logout
//   - Admin user management under /api/auth/users
//   - Per-user settings under /api/settings
//   - Audit trail listing and a health endpoint
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Access control
//
// Every route is registered under a class (authenticate, register, verify,
// protected, admin) and a single decision function, Server.authorize, maps
// the class, the AuthMode and the request to an identity or a rejection.
// Under AuthBypassed every request is the config user and the register and
// admin routes answer 404. Under AuthEnforced registration is open only while
// the user directory is empty.
//
// Sessions are stateless HS256 tokens carried in the "jwt" cookie as
// "JWT <token>" or in the Authorization header. Logout clears the cookie;
// the token stays valid until it expires.
//
// # Errors
//
// Errors are JSON bodies of type Error. Credential failures always read
// "Failed login." and never say which factor was wrong. Malformed bodies
// answer 422 with per-field detail.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
