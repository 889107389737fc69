// Package sending defines the contract between the dispatcher, the delivery
// transports and the store that holds claimed messages.
//
// A Sender hands one fully resolved envelope to a transport. The Renderer
// turns a stored message into that envelope (template resolution, Liquid
// rendering, tracking injection). Repository and Batch describe the claim
// transaction the dispatcher works inside; internal/repository/postgres
// implements them.
package sending
