package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nescampos/coralmultichannel/pkg/channel"
	"github.com/nescampos/coralmultichannel/pkg/store"
)

type fakeEngine struct {
	reply    string
	err      error
	channel  string
	identity string
	text     string
}

func (f *fakeEngine) ProcessMessage(_ context.Context, channel, identity, text string) (string, error) {
	f.channel, f.identity, f.text = channel, identity, text
	return f.reply, f.err
}

type fakeServerStore struct {
	servers map[int64]store.MCPServer
	nextID  int64
}

func newFakeServerStore() *fakeServerStore {
	return &fakeServerStore{servers: map[int64]store.MCPServer{}, nextID: 1}
}

func (f *fakeServerStore) ListServers(context.Context) ([]store.MCPServer, error) {
	var out []store.MCPServer
	for id := int64(1); id < f.nextID; id++ {
		if srv, ok := f.servers[id]; ok {
			out = append(out, srv)
		}
	}
	return out, nil
}

func (f *fakeServerStore) GetServer(_ context.Context, id int64) (*store.MCPServer, error) {
	srv, ok := f.servers[id]
	if !ok {
		return nil, nil
	}
	return &srv, nil
}

func (f *fakeServerStore) AddServer(_ context.Context, name, url, version string) (*store.MCPServer, error) {
	srv := store.MCPServer{ID: f.nextID, Name: name, URL: url, Version: version, Enabled: true, CreatedAt: time.Now()}
	f.servers[srv.ID] = srv
	f.nextID++
	return &srv, nil
}

func (f *fakeServerStore) UpdateServer(_ context.Context, id int64, name, url, version string, enabled bool) (*store.MCPServer, error) {
	srv, ok := f.servers[id]
	if !ok {
		return nil, nil
	}
	srv.Name, srv.URL, srv.Version, srv.Enabled = name, url, version, enabled
	f.servers[id] = srv
	return &srv, nil
}

func (f *fakeServerStore) DeleteServer(_ context.Context, id int64) error {
	delete(f.servers, id)
	return nil
}

type fakeMCP struct {
	reconnected  []string
	disconnected []string
}

func (f *fakeMCP) Reconnect(_ context.Context, srv store.MCPServer) error {
	f.reconnected = append(f.reconnected, srv.Name)
	return nil
}

func (f *fakeMCP) Disconnect(name string) {
	f.disconnected = append(f.disconnected, name)
}

func newTestServer(engine Assistant) (*Server, *fakeServerStore, *fakeMCP) {
	router := channel.NewRouter(
		channel.NewSMSAdapter(channel.SMSOptions{}),
		channel.NewWebRTCAdapter(channel.WebRTCOptions{}),
		channel.NewVoiceAdapter(channel.VoiceOptions{}),
		channel.NewMailAdapter(channel.MailOptions{}),
	)
	servers := newFakeServerStore()
	mcp := &fakeMCP{}
	return NewServer(router, engine, servers, mcp, Options{Host: "127.0.0.1", Port: 0}), servers, mcp
}

func TestAssistantJSONWebRTC(t *testing.T) {
	engine := &fakeEngine{reply: "hello from the model"}
	srv, _, _ := newTestServer(engine)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"type": "text", "sessionId": "sess-1", "userId": "user-7", "data": "hi",
	})
	resp, err := http.Post(ts.URL+"/assistant", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["type"] != "text_response" || payload["text"] != "hello from the model" {
		t.Errorf("payload = %v", payload)
	}
	if payload["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %q", payload["sessionId"])
	}
	if engine.channel != "webrtc" || engine.identity != "user-7" || engine.text != "hi" {
		t.Errorf("engine saw channel=%q identity=%q text=%q", engine.channel, engine.identity, engine.text)
	}
}

func TestAssistantFormSMS(t *testing.T) {
	engine := &fakeEngine{reply: "sms answer"}
	srv, _, _ := newTestServer(engine)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	form := url.Values{"From": {"+15550001"}, "Body": {"hello"}}
	resp, err := http.Post(ts.URL+"/assistant", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if want := "<Response><Message>sms answer</Message></Response>"; buf.String() != want {
		t.Errorf("body = %q, want %q", buf.String(), want)
	}
}

func TestAssistantUnknownChannel(t *testing.T) {
	srv, _, _ := newTestServer(&fakeEngine{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/assistant", "application/json", strings.NewReader(`{"foo":"bar"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var payload map[string]string
	json.NewDecoder(resp.Body).Decode(&payload)
	if payload["error"] == "" {
		t.Error("missing error field")
	}
}

func TestAssistantEngineFailure(t *testing.T) {
	srv, _, _ := newTestServer(&fakeEngine{err: fmt.Errorf("model down")})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{"type": "text", "sessionId": "s", "data": "hi"})
	resp, err := http.Post(ts.URL+"/assistant", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestAssistantCallLifecycleAck(t *testing.T) {
	engine := &fakeEngine{reply: "should not run"}
	srv, _, _ := newTestServer(engine)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{"type": "call_start", "sessionId": "s"})
	resp, err := http.Post(ts.URL+"/assistant", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if engine.text != "" || engine.channel != "" {
		t.Error("lifecycle event reached the engine")
	}
}

func TestMCPServerCRUD(t *testing.T) {
	srv, _, mcp := newTestServer(&fakeEngine{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := ts.Client()

	// add
	addBody, _ := json.Marshal(map[string]interface{}{"name": "search", "url": "http://mcp.example/search", "version": "1.0"})
	resp, err := client.Post(ts.URL+"/mcp/servers", "application/json", bytes.NewReader(addBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var created serverRecord
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == 0 {
		t.Fatalf("add: status=%d record=%+v", resp.StatusCode, created)
	}
	if len(mcp.reconnected) != 1 || mcp.reconnected[0] != "search" {
		t.Errorf("reconnected = %v", mcp.reconnected)
	}

	// list
	resp, err = client.Get(ts.URL + "/mcp/servers")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var listed []serverRecord
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()
	if len(listed) != 1 || listed[0].Name != "search" {
		t.Fatalf("list = %+v", listed)
	}

	// rename drops the old connection name
	updBody, _ := json.Marshal(map[string]interface{}{"name": "websearch"})
	req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/mcp/servers/%d", ts.URL, created.ID), bytes.NewReader(updBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	var updated serverRecord
	json.NewDecoder(resp.Body).Decode(&updated)
	resp.Body.Close()
	if updated.Name != "websearch" || updated.URL != "http://mcp.example/search" {
		t.Errorf("update = %+v", updated)
	}
	if len(mcp.disconnected) != 1 || mcp.disconnected[0] != "search" {
		t.Errorf("disconnected = %v", mcp.disconnected)
	}

	// delete
	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/mcp/servers/%d", ts.URL, created.ID), nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if mcp.disconnected[len(mcp.disconnected)-1] != "websearch" {
		t.Errorf("disconnected = %v", mcp.disconnected)
	}
}

func TestUpdateMissingServer(t *testing.T) {
	srv, _, _ := newTestServer(&fakeEngine{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, _ := json.Marshal(map[string]interface{}{"name": "ghost"})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/mcp/servers/99", bytes.NewReader(body))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
