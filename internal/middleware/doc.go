// Package middleware provides HTTP middleware: request logging in W3C
// Extended Log Format and Prometheus request metrics keyed by route.
package middleware
