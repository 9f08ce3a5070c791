package idempotency

import "context"

// Replay support for the trade gateway: a POST retried with the same
// idempotency key returns the original response instead of re-running the
// operation.

// Endpoint scopes a saved response to one gateway operation, so one key
// reused across operations never replays the wrong response.
type Endpoint string

const (
	EndpointCreateTrade  Endpoint = "create_trade"
	EndpointResolveTrade Endpoint = "resolve_trade"
)

type Actor struct {
	ActorID        string
	IdempotencyKey string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error
}

func Replay(ctx context.Context, st Store, actor Actor, endpoint Endpoint) (int, map[string]any, bool, error) {
	if actor.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, actor.ActorID, actor.IdempotencyKey, string(endpoint))
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

func Save(ctx context.Context, st Store, actor Actor, endpoint Endpoint, status int, response map[string]any) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, actor.ActorID, actor.IdempotencyKey, string(endpoint), status, response)
}
