// Package auth guards the relay's HTTP API.
//
// API clients present an HS256 JWT in the Authorization header:
//
//	Authorization: Bearer <token>
//
// The token's "sub" claim names the caller and is attached to the request
// context for logging. Tokens are minted with `coven-relay token --sub NAME`
// using the configured auth.jwt_secret. When no secret is configured the
// middleware is not installed and the API is open, which is only suitable
// when the listener is bound to loopback.
package auth
