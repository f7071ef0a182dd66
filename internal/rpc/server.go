package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/colink-dev/colink-core/internal/auth"
	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/kvstore"
	"github.com/colink-dev/colink-core/internal/subscription"
	"github.com/colink-dev/colink-core/internal/task"
)

// Operator is the subset of internal/operator.Supervisor the RPC surface
// needs; declared here (rather than importing internal/operator directly)
// so rpc and operator don't form an import cycle — operator's manifest
// fetch logic has no business reasoning about gRPC framing.
type Operator interface {
	Start(ctx context.Context, userID, protocolName string) (instanceID string, err error)
	// Stop kills a running instance. asHost bypasses the owning-user
	// check (a host-privileged caller may stop any instance); otherwise
	// callerUserID must match the instance's recorded owner.
	Stop(ctx context.Context, callerUserID string, asHost bool, instanceID string) error
}

// Server implements every verb of spec §6 against the components wired by
// cmd/colink-core. It holds no transport-level state itself — codec and
// interceptor registration live in NewGRPCServer, listening in
// cmd/colink-core, and dialing in internal/transport.
type Server struct {
	store     kvstore.Store
	bus       *subscription.Bus
	authSvc   *auth.Service
	tasks     *task.Engine
	operator  Operator
	reverse   ReverseRegistry
	hostID    string
	corePubID string
	mqURI     string
}

// Config collects the components Server binds together.
type Config struct {
	Store     kvstore.Store
	Bus       *subscription.Bus
	Auth      *auth.Service
	Tasks     *task.Engine
	Operator  Operator
	Reverse   ReverseRegistry
	HostID    string
	CorePubID string
	MQURI     string
}

func NewServer(cfg Config) *Server {
	return &Server{
		store:     cfg.Store,
		bus:       cfg.Bus,
		authSvc:   cfg.Auth,
		tasks:     cfg.Tasks,
		operator:  cfg.Operator,
		reverse:   cfg.Reverse,
		hostID:    cfg.HostID,
		corePubID: cfg.CorePubID,
		mqURI:     cfg.MQURI,
	}
}

// subjectUserID extracts the caller's user_id from its verified token,
// enforcing spec §4.4's "for user-privileged callers, the request's
// subject user_id equals the token's user_id" by simply using the token's
// own user_id rather than trusting a request-supplied one.
func subjectUserID(ctx context.Context) (string, error) {
	tok, ok := TokenFromContext(ctx)
	if !ok {
		return "", corefault.New(corefault.Unauthenticated, "no token on context")
	}
	return tok.UserID, nil
}

// resolveSubjectUserID is subjectUserID plus spec §4.4's "tokens with
// privilege = host can act across all users": a host-privileged caller
// may pass targetUserID to operate on another user's KV namespace instead
// of its own (the host token's own subject is the pseudo-user
// coretypes.HostSubject, which owns no KV entries of interest). Any
// non-host caller supplying targetUserID is rejected outright rather than
// silently falling back to its own subject, so a client can't mistake a
// denied override for a successful same-user operation.
func resolveSubjectUserID(ctx context.Context, targetUserID string) (string, error) {
	tok, ok := TokenFromContext(ctx)
	if !ok {
		return "", corefault.New(corefault.Unauthenticated, "no token on context")
	}
	if targetUserID == "" {
		return tok.UserID, nil
	}
	if tok.Privilege != coretypes.PrivilegeHost {
		return "", corefault.New(corefault.PermissionDenied, "only a host-privileged token may act on behalf of another user")
	}
	return targetUserID, nil
}

func (s *Server) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (*TokenResponse, error) {
	tok, err := s.authSvc.GenerateToken(req.ExistingToken, req.Privilege, req.Expiry)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: tok}, nil
}

func (s *Server) ImportUser(ctx context.Context, req *ImportUserRequest) (*TokenResponse, error) {
	tok, err := s.authSvc.ImportUser(auth.UserConsent{
		UserID:     req.UserID,
		CorePubKey: req.CorePubKey,
		Expiry:     req.Expiry,
		Signature:  req.Signature,
	})
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: tok}, nil
}

func (s *Server) CreateEntry(ctx context.Context, req *EntryRequest) (*EntryResponse, error) {
	userID, err := resolveSubjectUserID(ctx, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.Create(userID, req.KeyName, req.Payload)
	if err != nil {
		return nil, err
	}
	return &EntryResponse{Entry: e}, nil
}

func (s *Server) UpdateEntry(ctx context.Context, req *EntryRequest) (*EntryResponse, error) {
	userID, err := resolveSubjectUserID(ctx, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.Update(userID, req.KeyName, req.Payload)
	if err != nil {
		return nil, err
	}
	return &EntryResponse{Entry: e}, nil
}

func (s *Server) DeleteEntry(ctx context.Context, req *EntryRequest) (*EntryResponse, error) {
	userID, err := resolveSubjectUserID(ctx, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.Delete(userID, req.KeyName)
	if err != nil {
		return nil, err
	}
	return &EntryResponse{Entry: e}, nil
}

func (s *Server) ReadEntries(ctx context.Context, req *ReadEntriesRequest) (*ReadEntriesResponse, error) {
	userID, err := resolveSubjectUserID(ctx, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	out := make([]*coretypes.StorageEntry, 0, len(req.Selectors))
	for _, sel := range req.Selectors {
		e, err := s.store.Read(userID, sel.KeyNameOrPath)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return &ReadEntriesResponse{Entries: out}, nil
}

func (s *Server) ReadKeys(ctx context.Context, req *ReadKeysRequest) (*ReadKeysResponse, error) {
	userID, err := resolveSubjectUserID(ctx, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListKeys(userID, req.Prefix, req.IncludeHistory)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.KeyPath
	}
	return &ReadKeysResponse{KeyPaths: paths}, nil
}

func (s *Server) CreateTask(ctx context.Context, req *CreateTaskRequest) (*TaskResponse, error) {
	userID, err := subjectUserID(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.CreateTask(ctx, userID, req.ProtocolName, req.ProtocolParam, req.Participants, req.RequireAgreement, req.TTL, req.InitiatorCoreURI)
	if err != nil {
		return nil, err
	}
	return &TaskResponse{Task: t}, nil
}

func (s *Server) ConfirmTask(ctx context.Context, req *ConfirmTaskRequest) (*Empty, error) {
	userID, err := subjectUserID(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.tasks.ConfirmTask(ctx, userID, req.TaskID, req.IsApproved, req.Reason); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) FinishTask(ctx context.Context, req *FinishTaskRequest) (*Empty, error) {
	userID, err := subjectUserID(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.tasks.FinishTask(ctx, userID, req.TaskID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) RequestInfo(ctx context.Context, _ *Empty) (*RequestInfoResponse, error) {
	return &RequestInfoResponse{CorePublicKey: s.corePubID, MQURI: s.mqURI}, nil
}

func (s *Server) Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResponse, error) {
	userID, err := subjectUserID(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := s.bus.Subscribe(userID, req.Prefix, req.StartVersion)
	if err != nil {
		return nil, err
	}
	return &SubscribeResponse{QueueName: queue}, nil
}

func (s *Server) Unsubscribe(ctx context.Context, req *UnsubscribeRequest) (*Empty, error) {
	if err := s.bus.Unsubscribe(req.QueueName); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) InterCoreSyncTask(ctx context.Context, req *InterCoreSyncTaskRequest) (*Empty, error) {
	if req.LocalUserID == "" {
		return nil, corefault.New(corefault.InvalidArgument, "local_user_id required")
	}
	if err := s.tasks.InterCoreSyncTask(req.LocalUserID, req.Task); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) StartProtocolOperator(ctx context.Context, req *StartProtocolOperatorRequest) (*StartProtocolOperatorResponse, error) {
	userID, err := subjectUserID(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.operator.Start(ctx, userID, req.ProtocolName)
	if err != nil {
		return nil, err
	}
	return &StartProtocolOperatorResponse{InstanceID: id}, nil
}

func (s *Server) StopProtocolOperator(ctx context.Context, req *StopProtocolOperatorRequest) (*Empty, error) {
	userID, err := subjectUserID(ctx)
	if err != nil {
		return nil, err
	}
	tok, _ := TokenFromContext(ctx)
	if err := s.operator.Stop(ctx, userID, tok.Privilege == coretypes.PrivilegeHost, req.InstanceID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// grpcServiceDesc wires every unary method above onto a grpc.ServiceDesc so
// Server can be registered with grpc.NewServer like any generated stub,
// despite there being no generated stub (see doc.go).
var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: "colink.Core",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GenerateToken", func(s *Server) any { return &GenerateTokenRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.GenerateToken(ctx, req.(*GenerateTokenRequest))
		}),
		unaryMethod("ImportUser", func(s *Server) any { return &ImportUserRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.ImportUser(ctx, req.(*ImportUserRequest))
		}),
		unaryMethod("CreateEntry", func(s *Server) any { return &EntryRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.CreateEntry(ctx, req.(*EntryRequest))
		}),
		unaryMethod("UpdateEntry", func(s *Server) any { return &EntryRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.UpdateEntry(ctx, req.(*EntryRequest))
		}),
		unaryMethod("DeleteEntry", func(s *Server) any { return &EntryRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.DeleteEntry(ctx, req.(*EntryRequest))
		}),
		unaryMethod("ReadEntries", func(s *Server) any { return &ReadEntriesRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.ReadEntries(ctx, req.(*ReadEntriesRequest))
		}),
		unaryMethod("ReadKeys", func(s *Server) any { return &ReadKeysRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.ReadKeys(ctx, req.(*ReadKeysRequest))
		}),
		unaryMethod("CreateTask", func(s *Server) any { return &CreateTaskRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.CreateTask(ctx, req.(*CreateTaskRequest))
		}),
		unaryMethod("ConfirmTask", func(s *Server) any { return &ConfirmTaskRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.ConfirmTask(ctx, req.(*ConfirmTaskRequest))
		}),
		unaryMethod("FinishTask", func(s *Server) any { return &FinishTaskRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.FinishTask(ctx, req.(*FinishTaskRequest))
		}),
		unaryMethod("RequestInfo", func(s *Server) any { return &Empty{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.RequestInfo(ctx, req.(*Empty))
		}),
		unaryMethod("Subscribe", func(s *Server) any { return &SubscribeRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.Subscribe(ctx, req.(*SubscribeRequest))
		}),
		unaryMethod("Unsubscribe", func(s *Server) any { return &UnsubscribeRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.Unsubscribe(ctx, req.(*UnsubscribeRequest))
		}),
		unaryMethod("InterCoreSyncTask", func(s *Server) any { return &InterCoreSyncTaskRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.InterCoreSyncTask(ctx, req.(*InterCoreSyncTaskRequest))
		}),
		unaryMethod("StartProtocolOperator", func(s *Server) any { return &StartProtocolOperatorRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.StartProtocolOperator(ctx, req.(*StartProtocolOperatorRequest))
		}),
		unaryMethod("StopProtocolOperator", func(s *Server) any { return &StopProtocolOperatorRequest{} }, func(s *Server, ctx context.Context, req any) (any, error) {
			return s.StopProtocolOperator(ctx, req.(*StopProtocolOperatorRequest))
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "InterCoreSyncTaskWithReverseConnection",
			Handler:       reverseConnectionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "colink/core.proto",
}

func unaryMethod(name string, newReq func(*Server) any, call func(*Server, context.Context, any) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			s := srv.(*Server)
			req := newReq(s)
			if err := dec(req); err != nil {
				return nil, err
			}
			// Handler errors reach the client with their corefault code
			// mapped to a grpc status by toGRPCError.
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(s, ctx, req)
				if err != nil {
					return nil, toGRPCError(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/colink.Core/" + name}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// ServiceDesc exposes the registered descriptor so NewGRPCServer can call
// grpc.NewServer(...).RegisterService(&ServiceDesc, server).
func ServiceDesc() *grpc.ServiceDesc { return &grpcServiceDesc }
