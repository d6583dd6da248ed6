// Package client implements the consumer side of the auth contract: a session
// manager that logs in, keeps an access token fresh with single-flight
// renewal, decorates outgoing requests with the credential, and coordinates
// logout across contexts that share a Storage.
package client
