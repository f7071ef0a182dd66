// Package operator supervises locally-spawned protocol operator
// processes: given a protocol name, it resolves a manifest (fetching it
// from an inventory and cloning its source if not already present),
// launches the entrypoint as a detached child process with the core's
// address and a fresh user token in its environment, and records enough
// state to stop it again later.
//
// Grounded 1:1 on original_source/src/service/pom.rs's
// _start_protocol_operator/_stop_protocol_operator and its
// fetch_protocol_from_inventory/fetch_from_git helpers — there is no Go
// analogue in the teacher repo (Warren supervises containers, not
// manifest-launched shell entrypoints), so this package follows the
// original implementation's shape directly and expresses it the way the
// rest of this module expresses process/manifest handling: explicit
// error returns, zerolog logging, TOML via
// github.com/pelletier/go-toml/v2 (the teacher's indirect go-toml
// dependency, pulled in transitively via its yq usage).
package operator
