// Package auth implements passwordless authentication: users identified by
// email, one-time codes delivered out of band, and opaque session tokens
// stored hashed in Redis.
//
// Session tokens are bearer secrets. Only their SHA-256 hash is persisted;
// the plaintext token exists in the Set-Cookie header and nowhere else.
// One-time codes are short-lived, attempt-capped and compared in constant
// time.
package auth
