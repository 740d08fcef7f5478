// Package grpc carries an authsession session over gRPC. On the calling side
// it attaches the Manager's bearer token to RPCs and signs the session out
// when the server answers Unauthenticated. On the serving side it validates
// bearer tokens and exposes the caller's user ID through metadata.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/authsession"
)

const (
	// DefaultMetadataKeyUserID carries the user ID resolved by the server
	// interceptors.
	DefaultMetadataKeyUserID = "x-user-id"

	// MetadataKeyAuthorization carries the bearer token
	MetadataKeyAuthorization = "authorization"
)

// Config names the metadata key holding the resolved user ID.
type Config struct {
	// MetadataKeyUserID defaults to DefaultMetadataKeyUserID.
	MetadataKeyUserID string
}

// DefaultConfig returns a Config using DefaultMetadataKeyUserID.
func DefaultConfig() *Config {
	return &Config{MetadataKeyUserID: DefaultMetadataKeyUserID}
}

// EnsureDefaults sets MetadataKeyUserID when it is empty.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
}

func (c *Config) userIDKey() string {
	if c == nil || c.MetadataKeyUserID == "" {
		return DefaultMetadataKeyUserID
	}
	return c.MetadataKeyUserID
}

// UserIDFromContext returns the user ID the server interceptors resolved,
// or "" for an anonymous call.
func UserIDFromContext(ctx context.Context) string {
	return UserIDFromContextWithConfig(ctx, nil)
}

// UserIDFromContextWithConfig is UserIDFromContext with a custom key. A nil
// config uses the default key.
func UserIDFromContextWithConfig(ctx context.Context, config *Config) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(config.userIDKey()); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// UserIDToOutgoingContext forwards userID to a downstream service.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, userID)
}

// SessionToOutgoingContext forwards the ID of the user signed in to m.
// ctx is returned unchanged when nobody is signed in.
func SessionToOutgoingContext(ctx context.Context, m *authsession.Manager) context.Context {
	st := m.GetAuthState()
	if !st.IsAuthenticated || st.User == nil {
		return ctx
	}
	return UserIDToOutgoingContext(ctx, st.User.ID)
}

// BearerFromContext returns the bearer token in the incoming metadata
func BearerFromContext(ctx context.Context) (string, bool) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get(MetadataKeyAuthorization) {
		if token, found := strings.CutPrefix(v, "Bearer "); found && token != "" {
			return token, true
		}
	}
	return "", false
}

// IsAuthenticated reports whether the call carries a resolved user ID.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
