// Package middleware provides HTTP middleware: session resolution into
// the request context, request IDs, and Redis-backed rate limiting.
package middleware
