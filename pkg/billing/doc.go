// Package billing implements per-organization subscriptions through an
// external payment provider.
//
// The local subscriptions table is a read snapshot of provider state.
// Mutations (subscribe, cancel) never write it synchronously; the caller
// is handed a provider URL and the snapshot catches up through webhook
// events and the janitor's reconciliation pass. A subscription started at
// the provider is therefore pending until the confirming event arrives.
//
// Every mutation is gated by an injected authorization callback evaluated
// before any provider call. A false answer rejects the mutation with no
// side effects.
package billing
