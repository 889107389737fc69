// Package event records message lifecycle events.
//
// Recording an event is the only way a delivered message's status moves:
// the event row, the forward-only status change, first-occurrence
// timestamps, the daily counters and any suppression it implies are written
// in one transaction by the repository. Events are immutable once stored;
// the webhook fan-out worker only flips their delivery bookkeeping.
package event
