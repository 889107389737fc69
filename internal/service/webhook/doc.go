// Package webhook manages subscriber endpoints and delivers signed event
// payloads to them.
//
// Fan-out itself runs in the worker (internal/worker/webhook_dispatcher.go);
// this package owns endpoint CRUD, secrets, the signature scheme and the
// single-attempt HTTP delivery both the worker and the test endpoint use.
package webhook
