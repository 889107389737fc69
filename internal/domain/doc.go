// Package domain defines the core types of the transactional mail pipeline.
//
// Types in this package are value objects shared by handlers, services,
// repositories and workers. The message state machine and the analytics
// metric enum live here because every layer has to agree on them.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods and pure transition functions are allowed
//   - Constants and enums belong here
package domain
