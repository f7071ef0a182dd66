package kvstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/coretypes"
)

var (
	bucketVersions = []byte("versions")
	bucketLatest   = []byte("latest")
)

// BoltStore implements Store using a single bbolt database, one top-level
// bucket per user (see doc.go for the on-disk layout).
type BoltStore struct {
	db        *bolt.DB
	publisher Publisher
}

// versionRecord is the JSON payload stored for each "<key_name>@<version>"
// entry in the "versions" subbucket.
type versionRecord struct {
	KeyName   string `json:"key_name"`
	Payload   []byte `json:"payload"`
	Tombstone bool   `json:"tombstone"`
}

// NewBoltStore opens (creating if absent) the store's bbolt file under
// dataDir. publisher may be nil, in which case events are dropped — tests
// exercising only storage semantics can pass NopPublisher{}.
func NewBoltStore(dataDir string, publisher Publisher) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "colink.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv store db: %w", err)
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &BoltStore{db: db, publisher: publisher}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// DB exposes the underlying bbolt handle so other core components (the
// task store, in particular) can share the single on-disk database file
// rather than opening a second one, matching the teacher's one-database
// pattern in pkg/storage/boltdb.go.
func (s *BoltStore) DB() *bolt.DB { return s.db }

func userBucketName(userID string) []byte {
	return []byte("user:" + userID)
}

func versionKey(keyName string, version uint64) []byte {
	// Zero-padded so lexicographic bbolt ordering matches numeric order.
	return []byte(fmt.Sprintf("%s@%020d", keyName, version))
}

func latestVersionBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func latestVersionFromBytes(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func (s *BoltStore) write(userID, keyName string, payload []byte, tombstone bool, mtype coretypes.MutationType) (*coretypes.StorageEntry, error) {
	var entry *coretypes.StorageEntry

	err := s.db.Update(func(tx *bolt.Tx) error {
		ub, err := tx.CreateBucketIfNotExists(userBucketName(userID))
		if err != nil {
			return err
		}
		versions, err := ub.CreateBucketIfNotExists(bucketVersions)
		if err != nil {
			return err
		}
		latest, err := ub.CreateBucketIfNotExists(bucketLatest)
		if err != nil {
			return err
		}

		version, err := versions.NextSequence()
		if err != nil {
			return err
		}

		rec := versionRecord{KeyName: keyName, Payload: payload, Tombstone: tombstone}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := versions.Put(versionKey(keyName, version), data); err != nil {
			return err
		}
		if err := latest.Put([]byte(keyName), latestVersionBytes(version)); err != nil {
			return err
		}

		entry = &coretypes.StorageEntry{
			KeyName:   keyName,
			KeyPath:   coretypes.BuildKeyPath(userID, keyName, version),
			Payload:   payload,
			Timestamp: int64(version),
			Tombstone: tombstone,
		}
		return nil
	})
	if err != nil {
		return nil, corefault.Wrap(corefault.Internal, err, "write %s", keyName)
	}

	s.publisher.Publish(userID, coretypes.Event{
		Type:      mtype,
		UserID:    userID,
		KeyName:   entry.KeyName,
		KeyPath:   entry.KeyPath,
		Payload:   entry.Payload,
		Version:   uint64(entry.Timestamp),
		Timestamp: time.Now(),
	})
	return entry, nil
}

func (s *BoltStore) Create(userID, keyName string, payload []byte) (*coretypes.StorageEntry, error) {
	existing, err := s.latestRaw(userID, keyName)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.tombstone {
		return nil, corefault.New(corefault.AlreadyExists, "key %s already exists", keyName)
	}

	return s.write(userID, keyName, payload, false, coretypes.MutationCreate)
}

func (s *BoltStore) Update(userID, keyName string, payload []byte) (*coretypes.StorageEntry, error) {
	return s.write(userID, keyName, payload, false, coretypes.MutationUpdate)
}

func (s *BoltStore) Delete(userID, keyName string) (*coretypes.StorageEntry, error) {
	return s.write(userID, keyName, nil, true, coretypes.MutationDelete)
}

type rawLatest struct {
	version   uint64
	payload   []byte
	tombstone bool
}

func (s *BoltStore) latestRaw(userID, keyName string) (*rawLatest, error) {
	var out *rawLatest
	err := s.db.View(func(tx *bolt.Tx) error {
		ub := tx.Bucket(userBucketName(userID))
		if ub == nil {
			return nil
		}
		latest := ub.Bucket(bucketLatest)
		versions := ub.Bucket(bucketVersions)
		if latest == nil || versions == nil {
			return nil
		}
		vb := latest.Get([]byte(keyName))
		if vb == nil {
			return nil
		}
		version := latestVersionFromBytes(vb)
		data := versions.Get(versionKey(keyName, version))
		if data == nil {
			return fmt.Errorf("latest pointer for %s refers to missing version %d", keyName, version)
		}
		var rec versionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = &rawLatest{version: version, payload: rec.Payload, tombstone: rec.Tombstone}
		return nil
	})
	if err != nil {
		return nil, corefault.Wrap(corefault.Internal, err, "read latest %s", keyName)
	}
	return out, nil
}

func (s *BoltStore) Read(userID, keyNameOrPath string) (*coretypes.StorageEntry, error) {
	if strings.Contains(keyNameOrPath, "::") && strings.Contains(keyNameOrPath, "@") {
		return s.readByPath(userID, keyNameOrPath)
	}
	return s.readByName(userID, keyNameOrPath)
}

func (s *BoltStore) readByName(userID, keyName string) (*coretypes.StorageEntry, error) {
	raw, err := s.latestRaw(userID, keyName)
	if err != nil {
		return nil, err
	}
	if raw == nil || raw.tombstone {
		return nil, corefault.New(corefault.NotFound, "key %s not found", keyName)
	}
	return &coretypes.StorageEntry{
		KeyName:   keyName,
		KeyPath:   coretypes.BuildKeyPath(userID, keyName, raw.version),
		Payload:   raw.payload,
		Timestamp: int64(raw.version),
	}, nil
}

func (s *BoltStore) readByPath(userID, keyPath string) (*coretypes.StorageEntry, error) {
	pathUser, keyName, version, err := coretypes.ParseKeyPath(keyPath)
	if err != nil {
		return nil, corefault.Wrap(corefault.InvalidArgument, err, "invalid key_path")
	}
	if pathUser != userID {
		return nil, corefault.New(corefault.PermissionDenied, "key_path does not belong to user %s", userID)
	}

	var rec versionRecord
	found := false
	err = s.db.View(func(tx *bolt.Tx) error {
		ub := tx.Bucket(userBucketName(userID))
		if ub == nil {
			return nil
		}
		versions := ub.Bucket(bucketVersions)
		if versions == nil {
			return nil
		}
		data := versions.Get(versionKey(keyName, version))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, corefault.Wrap(corefault.Internal, err, "read %s", keyPath)
	}
	if !found {
		return nil, corefault.New(corefault.NotFound, "key_path %s not found", keyPath)
	}
	return &coretypes.StorageEntry{
		KeyName:   keyName,
		KeyPath:   keyPath,
		Payload:   rec.Payload,
		Timestamp: int64(version),
		Tombstone: rec.Tombstone,
	}, nil
}

func (s *BoltStore) ListKeys(userID, prefix string, includeHistory bool) ([]*coretypes.StorageEntry, error) {
	var out []*coretypes.StorageEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		ub := tx.Bucket(userBucketName(userID))
		if ub == nil {
			return nil
		}
		if includeHistory {
			versions := ub.Bucket(bucketVersions)
			if versions == nil {
				return nil
			}
			c := versions.Cursor()
			for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
				var rec versionRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				version := parseVersionSuffix(string(k))
				out = append(out, &coretypes.StorageEntry{
					KeyName:   rec.KeyName,
					KeyPath:   coretypes.BuildKeyPath(userID, rec.KeyName, version),
					Payload:   rec.Payload,
					Timestamp: int64(version),
					Tombstone: rec.Tombstone,
				})
			}
			return nil
		}

		latest := ub.Bucket(bucketLatest)
		versions := ub.Bucket(bucketVersions)
		if latest == nil || versions == nil {
			return nil
		}
		c := latest.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			keyName := string(k)
			version := latestVersionFromBytes(v)
			data := versions.Get(versionKey(keyName, version))
			if data == nil {
				continue
			}
			var rec versionRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.Tombstone {
				continue
			}
			out = append(out, &coretypes.StorageEntry{
				KeyName:   keyName,
				KeyPath:   coretypes.BuildKeyPath(userID, keyName, version),
				Payload:   rec.Payload,
				Timestamp: int64(version),
			})
		}
		return nil
	})
	if err != nil {
		return nil, corefault.Wrap(corefault.Internal, err, "list keys under %s", prefix)
	}
	return out, nil
}

// parseVersionSuffix extracts the version from a "versions" bucket key of
// the form "<key_name>@<20-digit version>".
func parseVersionSuffix(versionsKey string) uint64 {
	at := strings.LastIndex(versionsKey, "@")
	if at < 0 {
		return 0
	}
	v, _ := strconv.ParseUint(versionsKey[at+1:], 10, 64)
	return v
}
