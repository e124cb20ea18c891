package mcp

import (
	"context"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nescampos/coralmultichannel/pkg/tools"
)

func TestFlattenContent(t *testing.T) {
	content := []sdk.Content{
		&sdk.TextContent{Text: "sunny, 21C"},
		&sdk.ImageContent{MIMEType: "image/png"},
		&sdk.AudioContent{MIMEType: "audio/mpeg"},
		&sdk.ResourceLink{URI: "https://example.com/report"},
		&sdk.EmbeddedResource{Resource: &sdk.ResourceContents{URI: "file:///tmp/x"}},
	}
	got := FlattenContent(content)
	want := "sunny, 21C\n" +
		"[image data: image/png]\n" +
		"[audio data: audio/mpeg]\n" +
		"[Resource Link: https://example.com/report]\n" +
		"[Resource: file:///tmp/x]"
	if got != want {
		t.Errorf("FlattenContent = %q, want %q", got, want)
	}
}

func TestFlattenContentEmpty(t *testing.T) {
	if got := FlattenContent(nil); got != "" {
		t.Errorf("FlattenContent(nil) = %q, want empty", got)
	}
}

func TestSchemaToMapFallback(t *testing.T) {
	got := schemaToMap(nil)
	if got["type"] != "object" {
		t.Errorf("nil schema type = %v", got["type"])
	}

	got = schemaToMap(map[string]interface{}{
		"properties": map[string]interface{}{
			"city": map[string]interface{}{"type": "string"},
		},
	})
	if got["type"] != "object" {
		t.Error("missing type should default to object")
	}
	props, ok := got["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("properties = %T", got["properties"])
	}
	if _, ok := props["city"]; !ok {
		t.Error("city property lost in conversion")
	}
}

func TestDisconnectDropsOnlyServerTools(t *testing.T) {
	registry := tools.NewRegistry()
	m := NewManager(registry)

	registry.Register(&remoteTool{manager: m, server: "weather", remote: "current", name: "weather_current"})
	registry.Register(&remoteTool{manager: m, server: "weather", remote: "forecast", name: "weather_forecast"})
	registry.Register(&remoteTool{manager: m, server: "search", remote: "query", name: "search_query"})

	m.Disconnect("weather")

	list := registry.List()
	if len(list) != 1 || list[0] != "search_query" {
		t.Errorf("remaining tools = %v, want only search_query", list)
	}

	// disconnecting an unknown server is harmless
	m.Disconnect("weather")
}

func TestRemoteToolExecuteWithoutSession(t *testing.T) {
	registry := tools.NewRegistry()
	m := NewManager(registry)
	tool := &remoteTool{manager: m, server: "weather", remote: "current", name: "weather_current"}

	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error when server is not connected")
	}
}
