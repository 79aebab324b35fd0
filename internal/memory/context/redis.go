package context

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/memory-mcp/internal/memory/errkind"
	"github.com/kart-io/memory-mcp/internal/memory/model"
)

// RedisStore is an alternate PersonaContext backend for deployments that
// run many personas against a shared cache/store tier instead of per-persona
// files, grounded on goagent's store/redis.go namespace+key convention.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore returns a context store keyed under "<namespace>:context:<persona>".
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "memory-mcp"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(persona string) string {
	return s.namespace + ":context:" + persona
}

// Get implements the same contract as Store.Get.
func (s *RedisStore) Get(ctx context.Context, personaName string) (*model.PersonaContext, error) {
	raw, err := s.client.Get(ctx, s.key(personaName)).Bytes()
	if err == redis.Nil {
		return model.NewPersonaContext(personaName), nil
	}
	if err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "get persona context").
			WithComponent("context.RedisStore").WithOperation("Get")
	}

	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "unmarshal persona context envelope").
			WithComponent("context.RedisStore").WithOperation("Get")
	}

	pc := model.NewPersonaContext(personaName)
	if err := json.Unmarshal(raw, pc); err != nil {
		return nil, errkind.Wrap(err, errkind.DataStore, "unmarshal persona context").
			WithComponent("context.RedisStore").WithOperation("Get")
	}
	pc.Extra = extraFields(onDisk)
	return pc, nil
}

// Put implements the same contract as Store.Put.
func (s *RedisStore) Put(ctx context.Context, pc *model.PersonaContext) error {
	known, err := json.Marshal(pc)
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal persona context").
			WithComponent("context.RedisStore").WithOperation("Put")
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return errkind.Wrap(err, errkind.Internal, "flatten persona context").
			WithComponent("context.RedisStore").WithOperation("Put")
	}
	for k, v := range pc.Extra {
		if _, known := merged[k]; known {
			continue
		}
		if raw, err := json.Marshal(v); err == nil {
			merged[k] = raw
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return errkind.Wrap(err, errkind.Internal, "marshal merged persona context").
			WithComponent("context.RedisStore").WithOperation("Put")
	}
	if err := s.client.Set(ctx, s.key(pc.PersonaName), out, 0).Err(); err != nil {
		return errkind.Wrap(err, errkind.DataStore, "set persona context").
			WithComponent("context.RedisStore").WithOperation("Put")
	}
	return nil
}
