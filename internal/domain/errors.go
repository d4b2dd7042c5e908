package domain

import "errors"

var (
	// ErrProviderUnreachable covers transport failures, non-2xx replies and
	// JSON-RPC error objects.
	ErrProviderUnreachable = errors.New("rpc provider unreachable")
	// ErrMalformedResponse is returned when the provider answers with data
	// that cannot be decoded or parsed.
	ErrMalformedResponse = errors.New("malformed rpc response")
)
