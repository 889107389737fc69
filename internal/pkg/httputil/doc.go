// Package httputil provides shared HTTP response/request helpers for the
// API and tracking handlers.
//
// Handlers write every JSON body and error through these helpers so the
// error envelope ({"error", "code", "details"}) is identical across
// endpoints.
package httputil
