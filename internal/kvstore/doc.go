/*
Package kvstore implements colink-core's versioned, path-addressed KV
store (spec §4.1): every create/update/delete allocates a new version under
a per-user monotonic counter, history is never rewritten, and every
successful mutation is handed to a Publisher before the call returns.

Storage layout, adapted from the teacher's single-bbolt-file, one-bucket-
per-entity-kind layout (pkg/storage/boltdb.go): colink-core instead keys
bbolt buckets by user, since the KV store's unit of isolation and ordering
is the user, not an entity kind.

	┌─────────────────────── colink.db (bbolt) ─────────────────────────┐
	│                                                                    │
	│  bucket "user:<user_id>"                                          │
	│    ├─ subbucket "versions"                                        │
	│    │    "<key_name>@<20-digit version>" -> json(versionRecord)    │
	│    └─ subbucket "latest"                                          │
	│         "<key_name>" -> 8-byte big-endian version, or absent if   │
	│                         the name was never written                │
	│                                                                    │
	└────────────────────────────────────────────────────────────────────┘

Versions are zero-padded so lexicographic bbolt cursor order matches
numeric order, which both ListKeys history scans and the subscription
bus's catch-up scan rely on.
*/
package kvstore
