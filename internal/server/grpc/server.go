// Package grpcserver exposes the ShareGate admin API over gRPC.
//
// Messages are google.protobuf.Struct, so the service is described by a
// hand-written ServiceDesc instead of generated stubs.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/and161185/sharegate/internal/convert"
	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified admin service name.
const ServiceName = "sharegate.v1.Admin"

// Method names of the admin service.
const (
	MethodCreateShare         = "CreateShare"
	MethodRevokeShare         = "RevokeShare"
	MethodListShares          = "ListShares"
	MethodGetAccessStatistics = "GetAccessStatistics"
	MethodGetRateLimitStatus  = "GetRateLimitStatus"
	MethodBlacklist           = "Blacklist"
	MethodUnblacklist         = "Unblacklist"
	MethodGetThreatLevel      = "GetThreatLevel"
	MethodSecurityDashboard   = "SecurityDashboard"
	MethodSuspiciousReports   = "SuspiciousReports"
)

// AdminServer is the server side of sharegate.v1.Admin.
type AdminServer interface {
	CreateShare(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeShare(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListShares(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccessStatistics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRateLimitStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Blacklist(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unblacklist(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetThreatLevel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SecurityDashboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SuspiciousReports(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type adminMethod func(AdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m adminMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return m(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return m(srv.(AdminServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes sharegate.v1.Admin for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateShare, AdminServer.CreateShare),
		unary(MethodRevokeShare, AdminServer.RevokeShare),
		unary(MethodListShares, AdminServer.ListShares),
		unary(MethodGetAccessStatistics, AdminServer.GetAccessStatistics),
		unary(MethodGetRateLimitStatus, AdminServer.GetRateLimitStatus),
		unary(MethodBlacklist, AdminServer.Blacklist),
		unary(MethodUnblacklist, AdminServer.Unblacklist),
		unary(MethodGetThreatLevel, AdminServer.GetThreatLevel),
		unary(MethodSecurityDashboard, AdminServer.SecurityDashboard),
		unary(MethodSuspiciousReports, AdminServer.SuspiciousReports),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sharegate/v1/admin",
}

// SecurityAdmin is the slice of the security coordinator the admin API drives.
type SecurityAdmin interface {
	Blacklist(ctx context.Context, ipOrCIDR string, durationHours int, reason string) (model.BlacklistEntry, error)
	Unblacklist(ctx context.Context, ipOrCIDR string) error
	RateLimitStatus(ip string) model.RateLimitStatus
	ThreatLevel(ip string) model.IPThreat
	Dashboard(ctx context.Context) (model.SecurityDashboard, error)
}

// Deps are the services behind the admin API.
type Deps struct {
	Shares   service.ShareService
	Stats    service.StatsService
	Security SecurityAdmin
	// ReportLookback is the default SuspiciousReports lookback.
	ReportLookback time.Duration
}

// Server wires services into gRPC handlers.
type Server struct {
	shares   service.ShareService
	stats    service.StatsService
	security SecurityAdmin
	lookback time.Duration
}

var _ AdminServer = (*Server)(nil)

// New constructs the admin server with injected services.
func New(d Deps) *Server {
	if d.ReportLookback <= 0 {
		d.ReportLookback = 24 * time.Hour
	}
	return &Server{shares: d.Shares, stats: d.Stats, security: d.Security, lookback: d.ReportLookback}
}

// Register attaches the admin service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&ServiceDesc, s)
}

// --- Shares (owner scoped) ---

// CreateShare mints a share for a file of the caller.
func (s *Server) CreateShare(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	spec, err := convert.ShareSpecFromStruct(req, caller.ID)
	if err != nil {
		return nil, toStatus("create share", err)
	}
	rec, err := s.shares.Create(ctx, spec)
	if err != nil {
		return nil, toStatus("create share", err)
	}
	return convert.ShareToStruct(*rec), nil
}

// RevokeShare deactivates one of the caller's shares.
func (s *Server) RevokeShare(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	token, err := requiredString(req, "token")
	if err != nil {
		return nil, err
	}
	if err := s.shares.Revoke(ctx, caller.ID, token); err != nil {
		return nil, toStatus("revoke share", err)
	}
	return convert.Object(map[string]*structpb.Value{"revoked": structpb.NewBoolValue(true)}), nil
}

// ListShares returns the caller's active shares.
func (s *Server) ListShares(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := s.shares.ListActive(ctx, caller.ID)
	if err != nil {
		return nil, toStatus("list shares", err)
	}
	return convert.SharesToStruct(rs), nil
}

// GetAccessStatistics summarizes one share. Owners see their own shares,
// administrators see any.
func (s *Server) GetAccessStatistics(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	token, err := requiredString(req, "token")
	if err != nil {
		return nil, err
	}
	var st model.AccessStatistics
	if caller.Admin {
		st, err = s.stats.GetAccessStatistics(ctx, token)
	} else {
		st, err = s.stats.GetOwnedAccessStatistics(ctx, caller.ID, token)
	}
	if err != nil {
		return nil, toStatus("access statistics", err)
	}
	return convert.StatsToStruct(st), nil
}

// --- Security (admin scoped) ---

// GetRateLimitStatus reports the global counter of an IP.
func (s *Server) GetRateLimitStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ip, err := s.adminIP(ctx, req)
	if err != nil {
		return nil, err
	}
	return convert.RateLimitToStruct(s.security.RateLimitStatus(ip)), nil
}

// Blacklist bans an IP or CIDR for duration_hours.
func (s *Server) Blacklist(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	target, err := requiredString(req, "ip")
	if err != nil {
		return nil, err
	}
	hours, ok, err := convert.Int(req, "duration_hours")
	if err != nil {
		return nil, toStatus("blacklist", err)
	}
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "duration_hours is required")
	}
	reason, err := convert.String(req, "reason")
	if err != nil {
		return nil, toStatus("blacklist", err)
	}
	e, err := s.security.Blacklist(ctx, target, int(hours), reason)
	if err != nil {
		return nil, toStatus("blacklist", err)
	}
	return convert.BlacklistEntryToStruct(e), nil
}

// Unblacklist lifts a ban and any monitor block of a single IP.
func (s *Server) Unblacklist(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	target, err := requiredString(req, "ip")
	if err != nil {
		return nil, err
	}
	if err := s.security.Unblacklist(ctx, target); err != nil {
		return nil, toStatus("unblacklist", err)
	}
	return convert.Object(map[string]*structpb.Value{"removed": structpb.NewBoolValue(true)}), nil
}

// GetThreatLevel scores an IP.
func (s *Server) GetThreatLevel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ip, err := s.adminIP(ctx, req)
	if err != nil {
		return nil, err
	}
	return convert.ThreatToStruct(s.security.ThreatLevel(ip)), nil
}

// SecurityDashboard aggregates the current security view.
func (s *Server) SecurityDashboard(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	d, err := s.security.Dashboard(ctx)
	if err != nil {
		return nil, toStatus("dashboard", err)
	}
	return convert.DashboardToStruct(d), nil
}

// SuspiciousReports groups the ledger by IP and window over lookback.
func (s *Server) SuspiciousReports(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	lookback, err := convert.Duration(req, "lookback")
	if err != nil {
		return nil, toStatus("suspicious reports", err)
	}
	if lookback < 0 {
		return nil, status.Error(codes.InvalidArgument, "negative lookback")
	}
	if lookback == 0 {
		lookback = s.lookback
	}
	rs, err := s.stats.SuspiciousPatterns(ctx, lookback)
	if err != nil {
		return nil, toStatus("suspicious reports", err)
	}
	return convert.ReportsToStruct(rs), nil
}

// --- helpers ---

func (s *Server) adminIP(ctx context.Context, req *structpb.Struct) (string, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return "", err
	}
	ip, err := requiredString(req, "ip")
	if err != nil {
		return "", err
	}
	if net.ParseIP(ip) == nil {
		return "", status.Error(codes.InvalidArgument, "bad ip")
	}
	return ip, nil
}

func callerFrom(ctx context.Context) (model.Caller, error) {
	c, ok := CallerFromCtx(ctx)
	if !ok {
		return model.Caller{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return c, nil
}

func requireAdmin(ctx context.Context) (model.Caller, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return c, err
	}
	if !c.Admin {
		return c, status.Error(codes.PermissionDenied, "admin only")
	}
	return c, nil
}

func requiredString(req *structpb.Struct, key string) (string, error) {
	v, err := convert.String(req, key)
	if err != nil {
		return "", toStatus(key, err)
	}
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStatus maps errs sentinels to gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, "version conflict")
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s failed", op)
	}
}
