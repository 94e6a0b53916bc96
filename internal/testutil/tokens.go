// Package testutil provides testing utilities for the scenarist project.
package testutil

// Safe test tokens that won't trigger secret scanning.
// These are intentionally simple and obviously fake.
const (
	// FakeBotToken is a safe test token in the Bot API "<id>:<secret>" shape.
	FakeBotToken = "123456:test-bot-token"

	// FakeBearerToken is a safe test bearer token for the status API.
	FakeBearerToken = "test-bearer-token"
)
