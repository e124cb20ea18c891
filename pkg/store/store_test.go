package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range []struct{ role, content string }{
		{"user", "first"},
		{"assistant", "second"},
		{"user", "third"},
	} {
		if err := s.AppendMessage(ctx, "sms", "+1555", c.role, c.content); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	// a different identity must not leak in
	s.AppendMessage(ctx, "sms", "+1666", "user", "other")

	turns, err := s.RecentMessages(ctx, "sms", "+1555", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	// newest first
	if turns[0].Content != "third" || turns[2].Content != "first" {
		t.Errorf("order = [%s %s %s], want newest first", turns[0].Content, turns[1].Content, turns[2].Content)
	}

	turns, err = s.RecentMessages(ctx, "sms", "+1555", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Content != "third" {
		t.Errorf("limited turns = %v", turns)
	}

	if turns, _ := s.RecentMessages(ctx, "voice", "+1555", 10); len(turns) != 0 {
		t.Errorf("wrong channel returned %d turns", len(turns))
	}
}

func TestMCPServerCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	added, err := s.AddServer(ctx, "weather", "https://mcp.example.com/weather", "1.0")
	if err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if added.ID == 0 || !added.Enabled {
		t.Errorf("added = %+v", added)
	}

	if _, err := s.AddServer(ctx, "weather", "https://other", ""); err == nil {
		t.Error("duplicate name should violate the unique constraint")
	}

	got, err := s.GetServer(ctx, added.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.URL != "https://mcp.example.com/weather" {
		t.Errorf("got = %+v", got)
	}

	updated, err := s.UpdateServer(ctx, added.ID, "weather", "https://mcp.example.com/v2", "2.0", false)
	if err != nil {
		t.Fatalf("UpdateServer: %v", err)
	}
	if updated.URL != "https://mcp.example.com/v2" || updated.Enabled {
		t.Errorf("updated = %+v", updated)
	}

	if missing, err := s.UpdateServer(ctx, 9999, "x", "y", "", true); err != nil || missing != nil {
		t.Errorf("update missing = %+v, %v, want nil, nil", missing, err)
	}

	if err := s.DeleteServer(ctx, added.ID); err != nil {
		t.Fatalf("DeleteServer: %v", err)
	}
	if got, _ := s.GetServer(ctx, added.ID); got != nil {
		t.Error("server should be gone after delete")
	}
	if err := s.DeleteServer(ctx, added.ID); err != nil {
		t.Errorf("second delete = %v, want nil", err)
	}
}

func TestSeedServers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	defaults := []MCPServer{
		{Name: "search", URL: "https://mcp.example.com/search", Version: "1.0"},
		{Name: "calendar", URL: "https://mcp.example.com/calendar", Version: "1.0"},
	}
	if err := s.SeedServers(ctx, defaults); err != nil {
		t.Fatalf("SeedServers: %v", err)
	}
	servers, _ := s.ListServers(ctx)
	if len(servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(servers))
	}

	// seeding again must not duplicate
	if err := s.SeedServers(ctx, defaults); err != nil {
		t.Fatal(err)
	}
	servers, _ = s.ListServers(ctx)
	if len(servers) != 2 {
		t.Errorf("servers after reseed = %d, want 2", len(servers))
	}
}
