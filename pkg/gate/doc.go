// Package gate is the access and subscription gate every tenant-scoped
// request passes through: resolve the session to an identity, check
// membership in the target organization, then attach or delegate
// subscription state.
//
// Two outcomes are control flow, not errors: an unresolved session means
// redirect to login, and a missing membership means redirect to
// onboarding. Both are reported through sentinel errors so handlers can
// branch without string matching.
//
// Role checks are deliberately absent here. Mutations require membership
// existence only; the provider's injected authorization callback is the
// single place roles are enforced, so the policy cannot drift between
// call sites.
package gate
