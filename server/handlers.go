// Package server exposes the HTTP boundary: upload, analysis trigger,
// chat, downloads and search, all scoped to a cookie-addressed session.
package server

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"podscribe/core"
	"podscribe/processors"
	"podscribe/storage"
)

const sessionCookie = "podscribe_session"

// Accepted audio container types at the upload boundary.
var allowedExtensions = map[string]bool{
	".mp3": true,
	".mp4": true,
	".wav": true,
	".m4a": true,
}

const defaultMaxUploadBytes = 512 << 20

type Handlers struct {
	Sessions *core.SessionManager
	Pipeline *processors.Pipeline
	Analyzer processors.Analyzer
	Store    storage.SegmentStore
	Cache    *core.AnalysisCache
	DataDir  string
	Log      zerolog.Logger

	// MaxUploadBytes caps multipart uploads; zero means the default.
	MaxUploadBytes int64
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/upload", h.uploadHandler)
	mux.HandleFunc("/analyze", h.analyzeHandler)
	mux.HandleFunc("/state", h.stateHandler)
	mux.HandleFunc("/chat", h.chatHandler)
	mux.HandleFunc("/chat/clear", h.chatClearHandler)
	mux.HandleFunc("/transcript/interactive", h.interactiveTranscriptHandler)
	mux.HandleFunc("/download/summary", h.downloadSummaryHandler)
	mux.HandleFunc("/download/insights", h.downloadInsightsHandler)
	mux.HandleFunc("/download/chat", h.downloadChatHandler)
	mux.HandleFunc("/search", h.searchHandler)
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/stats", h.statsHandler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}

// session resolves the caller's session from the cookie, issuing a new
// session and cookie on first contact.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) *core.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess := h.Sessions.GetOrCreate(id)
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

func (h *Handlers) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)

	maxBytes := h.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio file is required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unsupported file type %q", ext)})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading upload failed"})
		return
	}

	stagedPath := filepath.Join(h.DataDir, "uploads", sess.ID+ext)
	if err := os.MkdirAll(filepath.Dir(stagedPath), 0755); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "staging upload failed"})
		return
	}
	if err := os.WriteFile(stagedPath, data, 0644); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "staging upload failed"})
		return
	}

	// File identity is name plus content hash; renaming or editing the
	// file both count as a new upload.
	fileID := fmt.Sprintf("%s#%x", header.Filename, md5.Sum(data))
	sess.RegisterUpload(fileID, header.Filename, stagedPath)

	h.Log.Info().Str("session", sess.ID).Str("file", header.Filename).Int("bytes", len(data)).Msg("upload accepted")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"state":      sess.State(),
		"file_name":  header.Filename,
	})
}

type analyzeRequest struct {
	Language string `json:"language"`
}

func (h *Handlers) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)

	var req analyzeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	language, err := processors.NormalizeLanguage(req.Language)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	audioPath := sess.AudioPath()
	if audioPath == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no file uploaded"})
		return
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "uploaded file is no longer available"})
		return
	}

	started := time.Now()
	result := h.Pipeline.Run(r.Context(), sess, audio, filepath.Ext(audioPath), language)
	h.Log.Info().
		Str("session", sess.ID).
		Str("state", string(result.State)).
		Dur("elapsed", time.Since(started)).
		Msg("analysis run finished")

	status := http.StatusOK
	switch {
	case result.State == core.StateComplete:
	case result.ErrKind == processors.ErrKindAPI:
		status = http.StatusBadGateway
	case result.State == core.StateFailed:
		status = http.StatusInternalServerError
	default:
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (h *Handlers) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Question string             `json:"question"`
	Answer   string             `json:"answer"`
	Hits     []core.Hit         `json:"hits,omitempty"`
	Messages []core.ChatMessage `json:"messages"`
}

func (h *Handlers) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}
	if !sess.AnalysisComplete() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "chat requires a completed analysis"})
		return
	}

	transcript := sess.Transcript()
	answer, err := h.Analyzer.Answer(r.Context(), transcript.FullText, req.Question)
	if err != nil {
		// One failed turn aborts only that turn; nothing is appended.
		kind := processors.ErrKindInternal
		status := http.StatusInternalServerError
		if processors.IsAPIError(err) {
			kind = processors.ErrKindAPI
			status = http.StatusBadGateway
		}
		h.Log.Error().Err(err).Str("session", sess.ID).Msg("chat turn failed")
		writeJSON(w, status, map[string]string{"error": err.Error(), "error_kind": kind})
		return
	}

	if err := sess.AppendChatTurn(req.Question, answer); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	var hits []core.Hit
	if h.Store != nil {
		if found, err := h.Store.Search(r.Context(), sess.ID, req.Question, 3); err == nil {
			hits = found
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Question: req.Question,
		Answer:   answer,
		Hits:     hits,
		Messages: sess.Messages(),
	})
}

func (h *Handlers) chatClearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)
	sess.ClearChat()
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State(), "messages": []core.ChatMessage{}})
}

func (h *Handlers) interactiveTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)
	if !sess.AnalysisComplete() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed analysis"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, processors.InteractiveTranscriptHTML(sess.Transcript()))
}

func (h *Handlers) downloadSummaryHandler(w http.ResponseWriter, r *http.Request) {
	h.downloadArtifact(w, r, "summary.txt", func(a core.Artifacts) string { return a.Summary })
}

func (h *Handlers) downloadInsightsHandler(w http.ResponseWriter, r *http.Request) {
	h.downloadArtifact(w, r, "insights.txt", func(a core.Artifacts) string { return a.Insights })
}

func (h *Handlers) downloadArtifact(w http.ResponseWriter, r *http.Request, name string, pick func(core.Artifacts) string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)
	if !sess.AnalysisComplete() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed analysis"})
		return
	}
	serveTextDownload(w, name, pick(sess.Artifacts()))
}

func (h *Handlers) downloadChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)
	messages := sess.Messages()
	if len(messages) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chat history is empty"})
		return
	}
	serveTextDownload(w, "chat_history.txt", processors.FormatChatHistory(messages))
}

func serveTextDownload(w http.ResponseWriter, name, content string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	fmt.Fprint(w, content)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *Handlers) searchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess := h.session(w, r)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if h.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "segment store unavailable"})
		return
	}

	hits, err := h.Store.Search(r.Context(), sess.ID, req.Query, req.TopK)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "hits": hits})
}

func (h *Handlers) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handlers) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.Sessions.Count(),
		"cache":    h.Cache.Stats(),
	})
}
