// Package service tracks the backend service that belongs to each gateway
// user.
//
// Every user owns one connection to a torrent client, either over TCP or a
// Unix socket. The Manager implements auth.ServiceLifecycle: the user
// directory calls it after each committed account change, and the manager
// keeps its per-user records in step.
//
// When a Publisher is configured, each change is announced on
// seedgate/service/{username}/{created|updated|destroyed} so that worker
// processes holding the actual client connections can open, reconnect or
// close them. Publishing is best effort: a broker outage is logged and does
// not fail the account change.
//
// When a user is destroyed the manager also releases that user's cached
// settings handle.
package service
