// Package message accepts transactional messages and exposes their
// lifecycle.
//
// Create validates the envelope and stores the message as queued (or
// scheduled when it is due in the future); the dispatcher worker takes it
// from there. Once a message leaves queued/scheduled its envelope and content
// are immutable and only its status moves, always forward along the graph in
// domain.CanTransition.
package message
