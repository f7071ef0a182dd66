package task

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/colink-dev/colink-core/internal/coretypes"
)

var bucketTasks = []byte("tasks")

// store is the bbolt-backed persistence layer for tasks, one top-level
// bucket ("tasks") holding one sub-bucket per user, keyed by task_id —
// mirroring spec §4.5's "persists the task under users:<user>:tasks:<id>"
// naming with bbolt's native bucket nesting instead of a flattened key.
type store struct {
	db *bolt.DB
}

func newStore(db *bolt.DB) *store {
	return &store{db: db}
}

func userTaskBucket(tx *bolt.Tx, userID string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(bucketTasks)
	if root == nil {
		if !create {
			return nil, nil
		}
		var err error
		root, err = tx.CreateBucket(bucketTasks)
		if err != nil {
			return nil, err
		}
	}
	if create {
		return root.CreateBucketIfNotExists([]byte(userID))
	}
	return root.Bucket([]byte(userID)), nil
}

func (s *store) put(userID string, t *coretypes.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := userTaskBucket(tx, userID, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(t.TaskID), data)
	})
}

func (s *store) get(userID, taskID string) (*coretypes.Task, error) {
	var t *coretypes.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := userTaskBucket(tx, userID, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		data := b.Get([]byte(taskID))
		if data == nil {
			return nil
		}
		var loaded coretypes.Task
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("decode task %s: %w", taskID, err)
		}
		t = &loaded
		return nil
	})
	return t, err
}

func (s *store) list(userID string) ([]*coretypes.Task, error) {
	var out []*coretypes.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := userTaskBucket(tx, userID, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var t coretypes.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}
