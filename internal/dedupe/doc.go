// Package dedupe remembers recently seen inbound deliveries so a webhook
// retried by an upstream provider is answered with the original result
// instead of being processed twice.
package dedupe
