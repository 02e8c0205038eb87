package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// ack is the acknowledgement body returned by every write route.
type ack struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

const refreshTokenType = "refresh_token"

// RegisterRoutes mounts the store endpoints on mux:
//
//	GET    /todo                      list todos
//	POST   /todo                      {task, dueDate}
//	DELETE /todo                      {index}
//	POST   /memory                    {category, tags:[tag]} -> matches
//	PUT    /memory                    {data, category, tags}
//	GET    /storetoken/refreshtoken
//	POST   /storetoken/refreshtoken   {refresh_token}
func (s *Store) RegisterRoutes(mux *http.ServeMux, logger *slog.Logger) {
	h := &handlers{store: s, logger: logger.With("component", "store")}

	mux.HandleFunc("GET /todo", h.listTodos)
	mux.HandleFunc("POST /todo", h.createTodo)
	mux.HandleFunc("DELETE /todo", h.deleteTodo)
	mux.HandleFunc("POST /memory", h.findMemories)
	mux.HandleFunc("PUT /memory", h.saveMemory)
	mux.HandleFunc("GET /storetoken/refreshtoken", h.getRefreshToken)
	mux.HandleFunc("POST /storetoken/refreshtoken", h.setRefreshToken)
}

type handlers struct {
	store  *Store
	logger *slog.Logger
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (h *handlers) fail(w http.ResponseWriter, status int, err error) {
	h.logger.Warn("store request failed", "status", status, "error", err)
	h.writeJSON(w, status, ack{Message: "failed", Error: err.Error()})
}

func (h *handlers) ok(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, ack{Message: "successful"})
}

func (h *handlers) listTodos(w http.ResponseWriter, r *http.Request) {
	todos, err := h.store.ListTodos(r.Context())
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, todos)
}

func (h *handlers) createTodo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task    string `json:"task"`
		DueDate string `json:"dueDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Task == "" {
		h.fail(w, http.StatusBadRequest, errors.New("task is required"))
		return
	}
	if _, err := h.store.CreateTodo(r.Context(), req.Task, req.DueDate); err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	h.ok(w)
}

func (h *handlers) deleteTodo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Index == nil {
		h.fail(w, http.StatusBadRequest, errors.New("index is required"))
		return
	}
	if _, err := h.store.DeleteTodoAt(r.Context(), *req.Index); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrIndexOutOfRange) {
			status = http.StatusNotFound
		}
		h.fail(w, status, err)
		return
	}
	h.ok(w)
}

func (h *handlers) findMemories(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string   `json:"category"`
		Tags     []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	var tag string
	if len(req.Tags) > 0 {
		tag = req.Tags[0]
	}
	memories, err := h.store.FindMemories(r.Context(), req.Category, tag)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, memories)
}

func (h *handlers) saveMemory(w http.ResponseWriter, r *http.Request) {
	var m Memory
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if _, err := h.store.SaveMemory(r.Context(), m); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	h.ok(w)
}

func (h *handlers) getRefreshToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.store.GetToken(r.Context(), refreshTokenType)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tok)
}

func (h *handlers) setRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.RefreshToken == "" {
		h.fail(w, http.StatusBadRequest, errors.New("refresh_token is required"))
		return
	}
	if err := h.store.SetToken(r.Context(), refreshTokenType, req.RefreshToken); err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	h.ok(w)
}
