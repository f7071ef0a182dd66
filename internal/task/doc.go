/*
Package task implements the Task State Machine of spec §4.5, colink-core's
centerpiece: a task is replicated across its participants' cores, and each
core advances its own local copy driven by user actions (create_task,
confirm_task, finish_task) and peer messages (inter_core_sync_task).

The Apply-dispatch shape is grounded on the teacher's pkg/manager/fsm.go
(a single mutex-guarded entry point that loads state, mutates it, and
writes it back), generalized from a single cluster-wide raft-replicated
store into a per-task state machine with no consensus log underneath —
spec's Non-goals explicitly exclude cross-core replication, so
Engine.mu plays the role of WarrenFSM.mu without a github.com/hashicorp/raft
dependency behind it.

Persistence reuses the kvstore package's bbolt database (via
kvstore.BoltStore.DB) rather than opening a second file, in the same
one-database-per-process shape as the teacher's pkg/storage.

# Decision signing

Spec §4.5 says a participant "signs and records their decision locally".
In colink-core's single-binary deployment, the only private key a core
ever holds is its own (internal/identity.KeyPair, loaded by
internal/corestate) — a user's private key never leaves their own client.
A core acts for a decision once the caller has already presented a valid
token for that user_id (proving control over the session, not the key
itself), so Engine signs every decision it mints with its own keypair;
SignerID names the signing key, which on receipt is checked against the
imported-users / bootstrapped-host set via auth.Service.IsImported. This
is the Open Question spec §9 leaves open, resolved here rather than left
unimplemented.
*/
package task
