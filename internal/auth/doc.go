/*
Package auth implements colink-core's Auth/Token Service (spec §4.4):
short-lived bearer capability tokens scoped to a user or to the host,
verified by MAC against the core's symmetric secret with no external
directory consulted, plus import_user's signature-verified consent flow.

Tokens are restructured from the teacher's pkg/manager.TokenManager, which
hands out random opaque tokens tracked in a server-side map (fine for
single-use join tokens, but stateful and unable to validate a token that
was issued before a restart). colink-core's tokens are self-contained and
stateless: the wire form is base64url(claims-json) + "." +
base64url(HMAC-SHA256(claims-json, core-secret)), so any core replica
holding the same secret can verify a token without shared state — which
spec §4.4 requires ("no external directory is consulted").

No JWT or MAC-token library appears anywhere in the retrieved corpus, so
the MAC itself is built on crypto/hmac + crypto/sha256 from the standard
library; this is the one ambient-stack concern in colink-core without a
third-party library grounding it, and is noted as such in DESIGN.md.
*/
package auth
