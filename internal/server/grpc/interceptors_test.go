package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/sharegate/internal/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: "/sharegate.v1.Admin/ListShares"}

	resp, err := ic(ctx, "req", info, func(context.Context, any) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := status.Error(codes.Internal, "boom")
	_, err = ic(ctx, "req", info, func(context.Context, any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/sharegate.v1.Admin/Panic"}

	_, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) {
		panic("oh no")
	})
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	resp, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}

func TestRateLimitUnary_Burst(t *testing.T) {
	t.Parallel()

	// one token per hour: only the burst gets through
	ic := RateLimitUnary(1.0/3600, 2)
	info := &grpc.UnaryServerInfo{FullMethod: "/sharegate.v1.Admin/ListShares"}
	h := func(context.Context, any) (any, error) { return "ok", nil }

	for i := 0; i < 2; i++ {
		if _, err := ic(context.Background(), nil, info, h); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := ic(context.Background(), nil, info, h)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	auth := service.NewAuthService([]byte("secret"))
	ic := AuthUnary(auth)
	admin := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/" + MethodListShares}

	id := uuid.Must(uuid.NewV4())
	tok, _, err := auth.IssueToken(id, true, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen bool
	_, err = ic(ctxAuth(tok), nil, admin, func(ctx context.Context, _ any) (any, error) {
		c, ok := CallerFromCtx(ctx)
		seen = ok && c.ID == id && c.Admin
		return nil, nil
	})
	if err != nil || !seen {
		t.Fatalf("caller not propagated: seen=%v err=%v", seen, err)
	}

	never := func(context.Context, any) (any, error) {
		t.Fatalf("handler must not run")
		return nil, nil
	}
	if _, err := ic(context.Background(), nil, admin, never); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("missing token: want Unauthenticated, got %v", err)
	}
	if _, err := ic(ctxAuth("not.a.jwt"), nil, admin, never); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("bad token: want Unauthenticated, got %v", err)
	}

	// other services are not gated
	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := ic(context.Background(), nil, health, func(context.Context, any) (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("health must pass: %v", err)
	}
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func Test_bearerTokenFromMD_MultipleHeaders_CaseInsensitive_Spaces(t *testing.T) {
	t.Parallel()

	md := metadata.New(nil)
	md.Append("authorization", "Basic foo")
	md.Append("authorization", "  bearer   tok.part.sig   ")
	got, err := bearerTokenFromMD(metadata.NewIncomingContext(context.Background(), md))
	if err != nil || got != "tok.part.sig" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func Test_remoteAddr(t *testing.T) {
	t.Parallel()

	if got := remoteAddr(context.Background()); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
	if got := remoteAddr(peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})); got != "127.0.0.1:12345" {
		t.Fatalf("got %q", got)
	}
}
