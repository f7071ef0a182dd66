// Package transport implements inter-core sync (spec §4.6): dialling a
// peer core over optional mTLS and pushing a task with the InterCoreSyncTask
// RPC, retrying each delivery until it succeeds or its context is
// cancelled (the task's status is not consulted, so reaching a terminal
// state does not stop a pending retry), plus the reverse-connection
// fallback for cores that can't be dialled directly.
//
// Grounded on pkg/worker.connectWithMTLS/pkg/client.connectWithMTLS (mTLS
// dial shape) and pkg/security's certificate-loading helpers (not its CA
// issuance logic, which colink-core has no use for: peers bring their own
// certificates, there is no manager handing them out). The retry loop is
// new — the teacher retries heartbeats on a fixed ticker
// (pkg/worker/worker.go's heartbeatLoop), generalized here to exponential
// backoff via github.com/cenkalti/backoff/v4, a dependency carried by
// several repos in the retrieval pack as their standard retry primitive.
package transport
