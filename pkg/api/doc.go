// Package api exposes the HTTP surface: OTP sign-in, organization
// management and subscription billing.
//
// Two conventions run through every handler. Authentication and
// membership failures are redirects, not errors: an unauthenticated
// request is sent to /login and a request for an organization the caller
// does not belong to is sent to /onboarding, both with 303 See Other.
// Validation failures return a field_errors map keyed by input field so
// forms can annotate inline.
//
// Role rejections on billing mutations are different from provider
// outages: the former is a 403 with a stable message, the latter a 502
// that invites retry.
package api
