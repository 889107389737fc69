// Package suppression implements the per-domain suppression registry.
//
// This is the single source of truth for whether an address may receive
// mail. Entries flow in from the API, bounce and complaint events, tracking
// unsubscribes and bulk imports, and the dispatcher checks them before every
// send. Each (domain, email) pair holds at most one active entry; when two
// signals collide the stronger reason wins (see domain.SuppressionReason.Priority).
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
