package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/goph-drafts/internal/drafts"
	"github.com/and161185/goph-drafts/internal/repository/memory"
	"github.com/and161185/goph-drafts/internal/session"
)

var testKey = []byte("test-secret")

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func outgoingAuth(t *testing.T, author string) context.Context {
	t.Helper()
	tok, err := IssueToken(testKey, author, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func newTestServer(t *testing.T, dev bool) (*Server, *memory.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New(log)
	reg := session.NewRegistry(store, func(string) drafts.Options {
		return drafts.Options{RetireWindow: time.Hour, SaveDebounce: time.Hour, ReadyTimeout: 100 * time.Millisecond}
	}, nil, log)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return New(reg, testKey, dev, log), store
}

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv *Server) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	log := zaptest.NewLogger(t)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(testKey),
	))
	Register(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	stop := func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() }
	return NewClient(cc), stop
}
