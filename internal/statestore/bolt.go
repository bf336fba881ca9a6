package statestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/agentmesh/fabric/internal/addressing"
	"github.com/agentmesh/fabric/internal/rtstatus"
)

// Bolt is a durable AgentStateStore backed by a single bbolt file, one
// bucket per agent type so a type's records sort and scan together.
type Bolt struct {
	db *bolt.DB
}

type boltRecord struct {
	Etag    string `json:"etag"`
	Payload []byte `json:"payload"`
}

// NewBolt opens (creating if necessary) a bbolt database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func bucketName(agentType string) []byte {
	return []byte("agentstate_" + agentType)
}

func (b *Bolt) Read(_ context.Context, id addressing.AgentId) (Record, error) {
	var rec boltRecord
	found := false

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(id.Type))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(id.Key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, rtstatus.New(rtstatus.Internal, "statestore: read %s: %v", id, err)
	}
	if !found {
		return Record{}, rtstatus.New(rtstatus.NotFound, "no state for agent %s", id)
	}
	return Record{Payload: rec.Payload, Etag: rec.Etag}, nil
}

func (b *Bolt) Write(_ context.Context, id addressing.AgentId, expectedEtag string, payload []byte) (string, error) {
	newEtag := uuid.NewString()

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(id.Type))
		if err != nil {
			return err
		}

		existing := bucket.Get([]byte(id.Key))
		if expectedEtag == "" {
			if existing != nil {
				return rtstatus.New(rtstatus.Conflict, "agent %s already has state", id)
			}
		} else {
			if existing == nil {
				return rtstatus.New(rtstatus.Conflict, "etag mismatch for agent %s", id)
			}
			var current boltRecord
			if err := json.Unmarshal(existing, &current); err != nil {
				return rtstatus.New(rtstatus.Internal, "statestore: corrupt record for %s: %v", id, err)
			}
			if current.Etag != expectedEtag {
				return rtstatus.New(rtstatus.Conflict, "etag mismatch for agent %s", id)
			}
		}

		data, err := json.Marshal(boltRecord{Etag: newEtag, Payload: payload})
		if err != nil {
			return rtstatus.New(rtstatus.Internal, "statestore: marshal record for %s: %v", id, err)
		}
		return bucket.Put([]byte(id.Key), data)
	})
	if err != nil {
		return "", err
	}
	return newEtag, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
