package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"

	"staybook/internal/app/commands"
)

// IdempotentCommand is a command whose client retries replay the first
// successful result. An empty key opts out.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any
}

// IdempotencyRecord is a stored result. Fingerprint hashes the command body
// so a key reused for a different request is rejected instead of replayed.
type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	Payload     []byte
	OccurredAt  time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

var (
	ErrIdempotencyKeyReused = errors.New("middleware: idempotency key reused with a different request")
	errMissingPrototype     = errors.New("middleware: idempotent command requires result prototype")
)

// Idempotency replays stored results for repeated keys, scoped per command.
// Concurrent requests with the same key run the handler once and share its
// outcome. Failures are not stored.
func Idempotency(store IdempotencyStore) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	var inflight singleflight.Group

	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok || idCmd.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := cmd.Key() + ":" + idCmd.IdempotencyKey()
			fingerprint, err := fingerprintOf(cmd)
			if err != nil {
				return nil, err
			}

			payload, err, _ := inflight.Do(key, func() (any, error) {
				rec, found, err := store.Get(ctx, key)
				if err != nil {
					return nil, err
				}
				if found {
					if rec.Fingerprint != "" && rec.Fingerprint != fingerprint {
						return nil, fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, idCmd.IdempotencyKey())
					}
					return rec.Payload, nil
				}
				result, err := next.Dispatch(ctx, cmd)
				if err != nil {
					return nil, err
				}
				body, err := json.Marshal(result)
				if err != nil {
					return nil, err
				}
				rec = IdempotencyRecord{Key: key, Fingerprint: fingerprint, Payload: body, OccurredAt: time.Now().UTC()}
				if err := store.Save(ctx, rec); err != nil {
					return nil, err
				}
				return body, nil
			})
			if err != nil {
				return nil, err
			}
			return decodeResult(idCmd, payload.([]byte))
		})
	}
}

// decodeResult rebuilds the handler's result from its stored JSON so first
// callers and replays observe the same value.
func decodeResult(cmd IdempotentCommand, payload []byte) (any, error) {
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if err := json.Unmarshal(payload, proto); err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, errMissingPrototype
	}
	return proto, nil
}

func fingerprintOf(cmd commands.Command) (string, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("middleware: fingerprint %s: %w", cmd.Key(), err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
