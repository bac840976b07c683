// Package middleware provides HTTP middleware for the video helper.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labeled by route template
//   - Optional HTTP basic authentication against a bcrypt hash
package middleware
