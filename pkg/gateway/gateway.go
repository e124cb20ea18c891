package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nescampos/coralmultichannel/pkg/channel"
	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/store"
)

// Assistant answers one inbound message.
type Assistant interface {
	ProcessMessage(ctx context.Context, channel, identity, text string) (string, error)
}

// ServerStore is the persisted capability-server registry.
type ServerStore interface {
	ListServers(ctx context.Context) ([]store.MCPServer, error)
	GetServer(ctx context.Context, id int64) (*store.MCPServer, error)
	AddServer(ctx context.Context, name, url, version string) (*store.MCPServer, error)
	UpdateServer(ctx context.Context, id int64, name, url, version string, enabled bool) (*store.MCPServer, error)
	DeleteServer(ctx context.Context, id int64) error
}

// MCPControl applies registry changes to live connections.
type MCPControl interface {
	Reconnect(ctx context.Context, srv store.MCPServer) error
	Disconnect(name string)
}

type Options struct {
	Host       string
	Port       int
	UploadsDir string
}

// Server is the HTTP front door: the unified /assistant webhook, the
// uploads directory, the capability-server admin surface and the
// browser voice websocket.
type Server struct {
	router  *channel.Router
	engine  Assistant
	servers ServerStore
	mcp     MCPControl
	opts    Options
	httpSrv *http.Server
}

func NewServer(router *channel.Router, engine Assistant, servers ServerStore, mcp MCPControl, opts Options) *Server {
	s := &Server{router: router, engine: engine, servers: servers, mcp: mcp, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /assistant", s.handleAssistant)
	mux.HandleFunc("GET /mcp/servers", s.handleListServers)
	mux.HandleFunc("POST /mcp/servers", s.handleAddServer)
	mux.HandleFunc("PUT /mcp/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /mcp/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("GET /voice", s.handleVoiceSocket)
	if opts.UploadsDir != "" {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadsDir))))
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table, mostly for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) Start() error {
	logger.InfoCF("gateway", "listening", map[string]interface{}{"addr": s.httpSrv.Addr})
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := s.router.Parse(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrSenderNotAllowed):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, channel.ErrUnknownChannel), errors.Is(err, channel.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	// session lifecycle events need an ack, not a model round
	if event := msg.Meta["event"]; event == "call_start" || event == "call_end" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
		return
	}

	reply, err := s.engine.ProcessMessage(r.Context(), string(msg.Kind), msg.From, msg.Text)
	if err != nil {
		logger.ErrorCF("gateway", "assistant processing failed", map[string]interface{}{
			"channel": string(msg.Kind),
			"error":   err.Error(),
		})
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := s.router.Send(r.Context(), msg.Kind, channel.SendRequest{
		To:        msg.From,
		Text:      reply,
		WantAudio: msg.IsAudio,
		Reply:     msg.Meta,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if result.Body != nil {
		w.Header().Set("Content-Type", result.ContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(result.Body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// decodeBody accepts JSON, plus form encoding for webhook providers
// that post application/x-www-form-urlencoded.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		body := make(map[string]interface{}, len(r.PostForm))
		for key, values := range r.PostForm {
			if len(values) > 0 {
				body[key] = values[0]
			}
		}
		return body, nil
	}

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return body, nil
}

type serverPayload struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Version string `json:"version"`
	Enabled *bool  `json:"enabled"`
}

type serverRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Version   string    `json:"version"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func toRecord(srv store.MCPServer) serverRecord {
	return serverRecord{
		ID: srv.ID, Name: srv.Name, URL: srv.URL,
		Version: srv.Version, Enabled: srv.Enabled, CreatedAt: srv.CreatedAt,
	}
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.servers.ListServers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	records := make([]serverRecord, 0, len(servers))
	for _, srv := range servers {
		records = append(records, toRecord(srv))
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var payload serverPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Name == "" || payload.URL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name and url are required"))
		return
	}

	srv, err := s.servers.AddServer(r.Context(), payload.Name, payload.URL, payload.Version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.mcp != nil {
		if err := s.mcp.Reconnect(r.Context(), *srv); err != nil {
			logger.WarnCF("gateway", "new capability server not reachable", map[string]interface{}{
				"name": srv.Name, "error": err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusCreated, toRecord(*srv))
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid server id"))
		return
	}
	var payload serverPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	existing, err := s.servers.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("server %d not found", id))
		return
	}

	name, url, version := payload.Name, payload.URL, payload.Version
	if name == "" {
		name = existing.Name
	}
	if url == "" {
		url = existing.URL
	}
	if version == "" {
		version = existing.Version
	}
	enabled := existing.Enabled
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}

	srv, err := s.servers.UpdateServer(r.Context(), id, name, url, version, enabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if srv == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("server %d not found", id))
		return
	}
	if s.mcp != nil {
		if existing.Name != srv.Name {
			s.mcp.Disconnect(existing.Name)
		}
		if err := s.mcp.Reconnect(r.Context(), *srv); err != nil {
			logger.WarnCF("gateway", "capability server reconnect failed", map[string]interface{}{
				"name": srv.Name, "error": err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusOK, toRecord(*srv))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid server id"))
		return
	}

	existing, err := s.servers.GetServer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if existing != nil && s.mcp != nil {
		s.mcp.Disconnect(existing.Name)
	}
	if err := s.servers.DeleteServer(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
