package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/authsession"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.MetadataKeyUserID != DefaultMetadataKeyUserID {
		t.Errorf("expected MetadataKeyUserID %q, got %q", DefaultMetadataKeyUserID, config.MetadataKeyUserID)
	}
}

func TestEnsureDefaults(t *testing.T) {
	config := &Config{}
	config.EnsureDefaults()
	if config.MetadataKeyUserID != DefaultMetadataKeyUserID {
		t.Errorf("expected MetadataKeyUserID %q, got %q", DefaultMetadataKeyUserID, config.MetadataKeyUserID)
	}
}

func TestUserIDFromContext_NoMetadata(t *testing.T) {
	if userID := UserIDFromContext(context.Background()); userID != "" {
		t.Errorf("expected empty user ID, got %q", userID)
	}
}

func TestUserIDFromContext_WithUserID(t *testing.T) {
	md := metadata.Pairs(DefaultMetadataKeyUserID, "user123")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	if userID := UserIDFromContext(ctx); userID != "user123" {
		t.Errorf("expected user ID %q, got %q", "user123", userID)
	}
	if !IsAuthenticated(ctx) {
		t.Error("expected IsAuthenticated to be true")
	}
}

func TestUserIDFromContext_CustomKey(t *testing.T) {
	md := metadata.Pairs("x-custom-user", "user789")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	config := &Config{MetadataKeyUserID: "x-custom-user"}
	if userID := UserIDFromContextWithConfig(ctx, config); userID != "user789" {
		t.Errorf("expected user ID %q, got %q", "user789", userID)
	}
	if userID := UserIDFromContext(ctx); userID != "" {
		t.Errorf("expected empty user ID with default key, got %q", userID)
	}
}

func TestUserIDToOutgoingContext(t *testing.T) {
	ctx := UserIDToOutgoingContext(context.Background(), "user123")

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if values := md.Get(DefaultMetadataKeyUserID); len(values) != 1 || values[0] != "user123" {
		t.Errorf("expected user ID %q in metadata, got %v", "user123", values)
	}
}

func TestSessionToOutgoingContext(t *testing.T) {
	m := authsession.NewManager(authsession.NewTokenStore(authsession.NewMemoryStore()))

	ctx := SessionToOutgoingContext(context.Background(), m)
	if _, ok := metadata.FromOutgoingContext(ctx); ok {
		t.Error("expected no outgoing metadata without a session")
	}

	m.SetAuthState(true, &authsession.UserRecord{ID: "u1"})
	ctx = SessionToOutgoingContext(context.Background(), m)
	md, _ := metadata.FromOutgoingContext(ctx)
	if values := md.Get(DefaultMetadataKeyUserID); len(values) != 1 || values[0] != "u1" {
		t.Errorf("expected user ID %q in metadata, got %v", "u1", values)
	}
}

func TestBearerFromContext(t *testing.T) {
	tests := []struct {
		name      string
		md        metadata.MD
		wantToken string
		wantOK    bool
	}{
		{"no metadata", nil, "", false},
		{"bearer", metadata.Pairs(MetadataKeyAuthorization, "Bearer abc"), "abc", true},
		{"basic", metadata.Pairs(MetadataKeyAuthorization, "Basic abc"), "", false},
		{"empty bearer", metadata.Pairs(MetadataKeyAuthorization, "Bearer "), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			token, ok := BearerFromContext(ctx)
			if token != tt.wantToken || ok != tt.wantOK {
				t.Errorf("got (%q, %v), want (%q, %v)", token, ok, tt.wantToken, tt.wantOK)
			}
		})
	}
}
