package operator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/colink-dev/colink-core/internal/auth"
	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/corelog"
	"github.com/colink-dev/colink-core/internal/kvstore"
)

const userTokenTTL = 30 * 24 * time.Hour

// Supervisor implements internal/rpc.Operator: start/stop a locally
// spawned protocol operator process, grounded directly on
// original_source/src/service/pom.rs's _start_protocol_operator/
// _stop_protocol_operator.
type Supervisor struct {
	store      kvstore.Store
	auth       *auth.Service
	hostID     string
	coreAddr   string
	colinkHome string
}

// New builds a Supervisor. colinkHome mirrors original_source's
// COLINK_HOME (falling back to $HOME/.colink), and coreAddr is this
// core's own RPC address, passed to the child as CORE_ADDR.
func New(store kvstore.Store, authSvc *auth.Service, hostID, coreAddr, colinkHome string) *Supervisor {
	return &Supervisor{store: store, auth: authSvc, hostID: hostID, coreAddr: coreAddr, colinkHome: colinkHome}
}

// Start resolves protocolName's manifest (fetching it from the inventory
// if not already present), launches its entrypoint as a detached child
// process, and records the instance under
// protocol_operator_instances:<id>:{pid,user_id}.
func (s *Supervisor) Start(ctx context.Context, userID, protocolName string) (string, error) {
	if filepath.Base(protocolName) != protocolName {
		return "", corefault.New(corefault.InvalidArgument, "protocol_name is invalid")
	}

	path := manifestPath(s.colinkHome, protocolName)
	if _, err := os.Stat(path); err != nil {
		if err := fetchFromInventory(ctx, protocolName, s.colinkHome); err != nil {
			return "", corefault.New(corefault.NotFound, fmt.Sprintf("protocol %s not found: %v", protocolName, err))
		}
	}

	m, err := loadManifest(path)
	if err != nil {
		return "", corefault.New(corefault.NotFound, err.Error())
	}
	if m.Package.Entrypoint == "" {
		return "", corefault.New(corefault.NotFound, "entrypoint not found")
	}

	token, err := s.auth.IssueUserToken(userID, userTokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue operator user token: %w", err)
	}

	cmd := exec.Command("bash", "-c", m.Package.Entrypoint)
	cmd.Dir = protocolDir(s.colinkHome, protocolName)
	cmd.Env = append(os.Environ(),
		"CORE_ADDR="+s.coreAddr,
		"USER_JWT="+token,
	)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn protocol operator: %w", err)
	}
	// Detach: the supervisor tracks the pid in storage, not via Wait/cmd.Process.
	go func() { _ = cmd.Process.Release() }()

	instanceID := uuid.NewString()
	pid := fmt.Sprintf("%d", cmd.Process.Pid)

	if _, err := s.store.Update(s.hostID, instanceKey(instanceID, "user_id"), []byte(userID)); err != nil {
		return "", fmt.Errorf("record operator instance user_id: %w", err)
	}
	if _, err := s.store.Update(s.hostID, instanceKey(instanceID, "pid"), []byte(pid)); err != nil {
		return "", fmt.Errorf("record operator instance pid: %w", err)
	}

	corelog.WithInstanceID(instanceID).Info().Str("protocol", protocolName).Str("pid", pid).Msg("started protocol operator")
	return instanceID, nil
}

// Stop kills a running instance's process, provided the caller is its
// owning user or asHost is set (a host-privileged caller may stop any
// instance), matching original_source's privilege-or-ownership check.
func (s *Supervisor) Stop(ctx context.Context, callerUserID string, asHost bool, instanceID string) error {
	ownerEntry, err := s.store.Read(s.hostID, instanceKey(instanceID, "user_id"))
	if err != nil {
		return corefault.New(corefault.NotFound, fmt.Sprintf("unknown protocol operator instance %s", instanceID))
	}
	if !asHost && string(ownerEntry.Payload) != callerUserID {
		return corefault.New(corefault.PermissionDenied, "not the owner of this protocol operator instance")
	}

	pidEntry, err := s.store.Read(s.hostID, instanceKey(instanceID, "pid"))
	if err != nil {
		return corefault.New(corefault.NotFound, fmt.Sprintf("no pid recorded for instance %s", instanceID))
	}

	kill := exec.CommandContext(ctx, "kill", "-9", string(pidEntry.Payload))
	if err := kill.Run(); err != nil {
		return fmt.Errorf("kill protocol operator instance %s: %w", instanceID, err)
	}
	corelog.WithInstanceID(instanceID).Info().Msg("stopped protocol operator")
	return nil
}

func instanceKey(instanceID, field string) string {
	return fmt.Sprintf("protocol_operator_instances:%s:%s", instanceID, field)
}
