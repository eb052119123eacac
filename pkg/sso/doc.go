// Package sso implements optional OpenID Connect sign-in. It is an
// alternate front door for the same identity model: a verified ID token
// yields an email address, and from there login proceeds exactly like a
// verified OTP (user upsert by email, then a session).
package sso
