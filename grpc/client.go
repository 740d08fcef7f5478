package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/authsession"
)

// TokenCredentials implements credentials.PerRPCCredentials with the bearer
// token of a Manager's current session. RPCs go out without an
// authorization header when nobody is signed in.
type TokenCredentials struct {
	Manager *authsession.Manager

	// Insecure allows the token on connections without transport security.
	// Only for local development.
	Insecure bool
}

// NewTokenCredentials creates TokenCredentials for m
func NewTokenCredentials(m *authsession.Manager) *TokenCredentials {
	return &TokenCredentials{Manager: m}
}

// GetRequestMetadata implements credentials.PerRPCCredentials
func (c *TokenCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.Manager.Token(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "reading session token: %v", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return map[string]string{}, nil
	}
	return map[string]string{MetadataKeyAuthorization: "Bearer " + tok.AccessToken}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials
func (c *TokenCredentials) RequireTransportSecurity() bool {
	return !c.Insecure
}

// UnaryClientInterceptor signs m out when a call is answered with
// Unauthenticated. A call that was in flight across a sign-out leaves the
// session alone.
func UnaryClientInterceptor(m *authsession.Manager) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		epoch := m.LogoutEpoch()
		err := invoker(ctx, method, req, reply, cc, opts...)
		signOutOnUnauthenticated(ctx, m, epoch, err)
		return err
	}
}

// StreamClientInterceptor is the streaming counterpart of
// UnaryClientInterceptor. It watches both stream creation and received
// messages.
func StreamClientInterceptor(m *authsession.Manager) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		epoch := m.LogoutEpoch()
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			signOutOnUnauthenticated(ctx, m, epoch, err)
			return nil, err
		}
		return &sessionStream{ClientStream: cs, m: m, epoch: epoch}, nil
	}
}

type sessionStream struct {
	grpc.ClientStream
	m     *authsession.Manager
	epoch uint64
}

func (s *sessionStream) RecvMsg(msg any) error {
	err := s.ClientStream.RecvMsg(msg)
	signOutOnUnauthenticated(s.Context(), s.m, s.epoch, err)
	return err
}

func signOutOnUnauthenticated(ctx context.Context, m *authsession.Manager, epoch uint64, err error) {
	if status.Code(err) != codes.Unauthenticated || m.LogoutEpoch() != epoch {
		return
	}
	if !m.GetAuthState().IsAuthenticated {
		return
	}
	_ = m.SignedOut(context.WithoutCancel(ctx))
}
