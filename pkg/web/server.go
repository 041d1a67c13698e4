// Package web serves the editor API: graph editing, execution, introspection
// and live updates over Server-Sent Events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
	"github.com/openbms-io/supervisor-sub001/pkg/pubsub"
	"github.com/openbms-io/supervisor-sub001/pkg/session"
	"github.com/openbms-io/supervisor-sub001/pkg/workflow"
)

var topics = map[string]bool{
	pubsub.TopicExecutionStatus: true,
	pubsub.TopicEdgeActivation:  true,
	pubsub.TopicGraph:           true,
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	session   *session.Session
	publisher pubsub.Publisher
	metrics   http.Handler
	origins   []string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAllowedOrigins sets the origins allowed to call the API from a
// browser. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates a web server for sess. Live updates are read from pub.
func NewServer(sess *session.Session, pub pubsub.Publisher, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		session:   sess,
		publisher: pub,
		origins:   []string{"*"},
		logger:    logging.New("web"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(logging.RequestIDMiddleware)

	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	s.router.HandleFunc("/api/graph", s.handleGraph).Methods("GET")
	s.router.HandleFunc("/api/graph", s.handleLoadGraph).Methods("PUT")
	s.router.HandleFunc("/api/graph/export", s.handleExport).Methods("GET")

	s.router.HandleFunc("/api/nodes", s.handleAddNode).Methods("POST")
	s.router.HandleFunc("/api/nodes/{id}", s.handleRemoveNode).Methods("DELETE")
	s.router.HandleFunc("/api/nodes/{id}/position", s.handleMoveNode).Methods("PUT")
	s.router.HandleFunc("/api/nodes/{id}/touch", s.handleTouchNode).Methods("POST")

	// validate must be registered before the generic connection routes
	s.router.HandleFunc("/api/connections/validate", s.handleValidateConnection).Methods("GET")
	s.router.HandleFunc("/api/connections", s.handleConnect).Methods("POST")
	s.router.HandleFunc("/api/connections", s.handleDisconnect).Methods("DELETE")

	s.router.HandleFunc("/api/execute", s.handleExecute).Methods("POST")
	s.router.HandleFunc("/api/execution/order", s.handleExecutionOrder).Methods("GET")
	s.router.HandleFunc("/api/execution/last", s.handleLastReport).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler returns the API with CORS applied.
func (s *Server) Handler() http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})(s.router)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if !topics[topic] {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown topic %q", topic))
		return
	}

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				s.logger.WarnContext(r.Context(), "error writing SSE event", "topic", topic, "error", err)
				return
			}
			flush()
		}
	}
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) handleLoadGraph(w http.ResponseWriter, r *http.Request) {
	format := workflow.FormatJSON
	if ct := r.Header.Get("Content-Type"); ct == "application/yaml" || ct == "application/x-yaml" {
		format = workflow.FormatYAML
	}
	doc, err := workflow.Decode(r.Body, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, changed, err := s.session.Load(doc, session.ReasonLoad)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "changed": changed})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := workflow.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = workflow.FormatJSON
	}
	contentType := map[workflow.Format]string{
		workflow.FormatJSON: "application/json",
		workflow.FormatYAML: "application/yaml",
	}[format]
	if contentType == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", workflow.ErrUnsupportedFormat, format))
		return
	}
	w.Header().Set("Content-Type", contentType)
	if err := workflow.Encode(w, s.session.Export(), format); err != nil {
		s.logger.WarnContext(r.Context(), "export failed", "error", err)
	}
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var nd workflow.NodeDoc
	if err := json.NewDecoder(r.Body).Decode(&nd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if nd.ID == "" || nd.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("id and type are required"))
		return
	}

	spec := nodes.Spec{
		ID:        nd.ID,
		Category:  nd.Category,
		Type:      nd.Type,
		Direction: nd.Direction,
		Metadata:  nd.Metadata,
	}
	err := s.session.AddNode(spec, graph.Position{X: nd.Position.X, Y: nd.Position.Y})
	switch {
	case errors.Is(err, graph.ErrDuplicateNode):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"id": nd.ID})
	}
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.session.RemoveNode(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var pos workflow.PositionDoc
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.session.MoveNode(id, graph.Position{X: pos.X, Y: pos.Y}) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTouchNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.session.TouchNode(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var e workflow.EdgeDoc
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.session.Connect(e.Source, e.Target, e.SourceHandle, e.TargetHandle) {
		writeError(w, http.StatusConflict, fmt.Errorf("connection rejected: %s", e))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": e.String()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	e := workflow.EdgeDoc{
		Source:       q.Get("source"),
		Target:       q.Get("target"),
		SourceHandle: q.Get("sourceHandle"),
		TargetHandle: q.Get("targetHandle"),
	}
	if !s.session.Disconnect(e.Source, e.Target, e.SourceHandle, e.TargetHandle) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no connection %s", e))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	valid := s.session.ValidateConnection(q.Get("source"), q.Get("target"))
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// passResponse is a PassReport with the delivery errors spelled out.
type passResponse struct {
	*graph.PassReport
	Errors []deliveryError `json:"errors,omitempty"`
}

type deliveryError struct {
	EdgeID string `json:"edgeId,omitempty"`
	Node   string `json:"node"`
	Error  string `json:"error"`
}

func newPassResponse(report *graph.PassReport) passResponse {
	resp := passResponse{PassReport: report}
	for _, d := range report.Failures {
		resp.Errors = append(resp.Errors, deliveryError{EdgeID: d.EdgeID, Node: d.To, Error: d.Err.Error()})
	}
	return resp
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	report, err := s.session.Execute(r.Context())
	var cycleErr *graph.CycleError
	switch {
	case errors.As(err, &cycleErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"cycles": cycleErr.Cycles,
		})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, newPassResponse(report))
	}
}

func (s *Server) handleExecutionOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.session.ExecutionOrder()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"order": order})
}

func (s *Server) handleLastReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.session.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no pass has run yet"))
		return
	}
	writeJSON(w, http.StatusOK, newPassResponse(&report))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Start serves the API on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
