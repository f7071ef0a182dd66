package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/colink-dev/colink-core/internal/auth"
	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/coretypes"
)

// authRule is what a method requires of its caller's token, grounded on
// spec §6's Auth column and generalized from pkg/api/interceptor.go's
// single read-only/write split into a per-method rule set.
type authRule struct {
	public     bool // no token required (request_info, import_user)
	anyToken   bool // any non-expired token, any privilege
	privileges []coretypes.Privilege
}

var methodRules = map[string]authRule{
	MethodGenerateToken:         {anyToken: true},
	MethodImportUser:            {public: true},
	MethodCreateEntry:           {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodUpdateEntry:           {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodDeleteEntry:           {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodReadEntries:           {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodReadKeys:              {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodCreateTask:            {privileges: []coretypes.Privilege{coretypes.PrivilegeUser}},
	MethodConfirmTask:           {privileges: []coretypes.Privilege{coretypes.PrivilegeUser}},
	MethodFinishTask:            {privileges: []coretypes.Privilege{coretypes.PrivilegeUser}},
	MethodRequestInfo:           {public: true},
	MethodSubscribe:             {privileges: []coretypes.Privilege{coretypes.PrivilegeUser}},
	MethodUnsubscribe:           {privileges: []coretypes.Privilege{coretypes.PrivilegeUser}},
	MethodInterCoreSyncTask:     {privileges: []coretypes.Privilege{coretypes.PrivilegeHost}},
	MethodStartProtocolOperator: {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodStopProtocolOperator:  {privileges: []coretypes.Privilege{coretypes.PrivilegeUser, coretypes.PrivilegeHost}},
	MethodInterCoreSyncTaskWithReverseConnection: {privileges: []coretypes.Privilege{coretypes.PrivilegeHost}},
}

type tokenCtxKey struct{}

// TokenFromContext returns the token a prior interceptor pass verified, or
// the zero value if the method is public and none was presented.
func TokenFromContext(ctx context.Context) (coretypes.Token, bool) {
	t, ok := ctx.Value(tokenCtxKey{}).(coretypes.Token)
	return t, ok
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimPrefix(vals[0], "Bearer ")
}

// AuthInterceptor enforces spec §4.4's check_privilege_in rule for every
// method, keyed off methodRules, and puts the verified token on the
// context; the subject-match rule is applied by the handlers through
// subjectUserID / resolveSubjectUserID. Grounded on
// pkg/api/interceptor.go's ReadOnlyInterceptor shape (inspect
// info.FullMethod, reject before the handler runs) generalized to a
// privilege-set check instead of a single read-only predicate.
func AuthInterceptor(authSvc *auth.Service) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rule, known := methodRules[info.FullMethod]
		if !known || rule.public {
			return handler(ctx, req)
		}

		tok, err := authSvc.Verify(bearerToken(ctx))
		if err != nil {
			return nil, toGRPCError(err)
		}
		if !rule.anyToken {
			if err := authSvc.CheckPrivilegeIn(tok, rule.privileges...); err != nil {
				return nil, toGRPCError(err)
			}
		}
		return handler(context.WithValue(ctx, tokenCtxKey{}, tok), req)
	}
}

// StreamAuthInterceptor is AuthInterceptor's streaming-RPC counterpart, for
// inter_core_sync_task_with_reverse_connection.
func StreamAuthInterceptor(authSvc *auth.Service) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		rule, known := methodRules[info.FullMethod]
		if !known || rule.public {
			return handler(srv, ss)
		}
		tok, err := authSvc.Verify(bearerToken(ss.Context()))
		if err != nil {
			return toGRPCError(err)
		}
		if !rule.anyToken {
			if err := authSvc.CheckPrivilegeIn(tok, rule.privileges...); err != nil {
				return toGRPCError(err)
			}
		}
		return handler(srv, &tokenStream{ServerStream: ss, ctx: context.WithValue(ss.Context(), tokenCtxKey{}, tok)})
	}
}

type tokenStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tokenStream) Context() context.Context { return s.ctx }

// toGRPCError maps a corefault.Code to the matching grpc status code,
// grounded on pkg/api/interceptor.go's use of status.Errorf(codes.X, ...).
func toGRPCError(err error) error {
	return status.Error(codeFor(corefault.CodeOf(err)), err.Error())
}

func codeFor(c corefault.Code) codes.Code {
	switch c {
	case corefault.Unauthenticated:
		return codes.Unauthenticated
	case corefault.PermissionDenied:
		return codes.PermissionDenied
	case corefault.InvalidArgument:
		return codes.InvalidArgument
	case corefault.NotFound:
		return codes.NotFound
	case corefault.AlreadyExists:
		return codes.AlreadyExists
	case corefault.FailedPrecondition:
		return codes.FailedPrecondition
	case corefault.Unavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
