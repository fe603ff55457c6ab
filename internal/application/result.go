// Package application contains use-case orchestration services.
package application

// Result is the webhook-visible outcome of a controller invocation: an
// HTTP-like status code plus a short human-readable reason. It is returned
// for every webhook delivery, including ignored ones.
type Result struct {
	Code   int
	Reason string
}
