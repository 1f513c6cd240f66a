package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/infra/middleware"
	"snapsight/internal/infra/tracer"
	"snapsight/internal/usecase/vision"
)

// Transport labels used in logs and metrics.
const (
	transportMultipart   = "multipart"
	transportJSON        = "json"
	transportUnsupported = "unsupported"
)

// Client-facing error messages.
const (
	msgMethodNotAllowed   = "method not allowed"
	msgUnsupportedContent = `unsupported content type: send multipart/form-data with an "image" file field, or application/json with {"imageData": "<base64 or data URL>"}`
	msgNoImage            = `no image file provided in field "image"`
	msgTooLarge           = "image too large"
	msgAnalyzeFailed      = "Failed to analyze image"
	msgRemoteTimeout      = "vision API timed out"
)

// imageDataSchema validates the JSON request body.
const imageDataSchema = `{
	"type": "object",
	"required": ["imageData"],
	"properties": {
		"imageData": {"type": "string", "minLength": 1}
	}
}`

// Describer produces an analysis for an image reference.
type Describer interface {
	Describe(ctx context.Context, imageRef string) (*domain.AnalysisResponse, error)
}

// Handler serves the analysis routes.
type Handler struct {
	vision  Describer
	cfg     config.ProxyConfig
	schema  *jsonschema.Schema
	metrics *Metrics
	logger  *slog.Logger
}

// NewHandler creates a Handler and compiles the request schema.
func NewHandler(d Describer, cfg config.ProxyConfig, metrics *Metrics, logger *slog.Logger) (*Handler, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(imageDataSchema)); err != nil {
		return nil, fmt.Errorf("add request schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}

	if cfg.MultipartMemory <= 0 {
		cfg.MultipartMemory = 1 << 20
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Handler{
		vision:  d,
		cfg:     cfg,
		schema:  schema,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Register mounts the analysis routes plus /healthz and /metrics on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, route := range h.cfg.Routes {
		mux.Handle(route, h.analyze(route))
	}
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", h.metrics.Handler())
}

// analyze returns the handler for one analysis route.
func (h *Handler) analyze(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorBody{Error: msgMethodNotAllowed})
			return
		}

		defer h.metrics.trackInFlight()()
		start := time.Now()

		ctx, span := tracer.StartSpan(r.Context(), "proxy.analyze",
			trace.WithAttributes(tracer.StringAttr("proxy.route", route)),
		)
		defer span.End()

		transport, status, body := h.serve(ctx, r)
		writeJSON(w, status, body)

		span.SetAttributes(
			tracer.StringAttr("proxy.transport", transport),
			tracer.IntAttr("http.status_code", status),
		)
		if status == http.StatusOK {
			tracer.SetOK(span)
		}
		h.metrics.ObserveRequest(route, transport, status)
		h.logger.Info("analysis request",
			"request_id", middleware.RequestIDFrom(r.Context()),
			"route", route,
			"transport", transport,
			"status", status,
			"duration", time.Since(start),
		)
	}
}

// serve decodes the image reference, calls the vision service and returns
// the transport label, status and response body.
func (h *Handler) serve(ctx context.Context, r *http.Request) (string, int, any) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		transport string
		imageRef  string
		status    int
		msg       string
	)
	switch mediaType {
	case "multipart/form-data":
		transport = transportMultipart
		imageRef, status, msg = h.readMultipart(r)
	case "application/json":
		transport = transportJSON
		imageRef, status, msg = h.readJSON(r)
	default:
		return transportUnsupported, http.StatusBadRequest, domain.ErrorBody{Error: msgUnsupportedContent, Code: domain.CodeProxyInput}
	}
	if status != 0 {
		return transport, status, domain.ErrorBody{Error: msg, Code: domain.CodeProxyInput}
	}

	start := time.Now()
	analysis, err := h.vision.Describe(ctx, imageRef)
	h.metrics.ObserveRemote(time.Since(start), err)
	if err != nil {
		h.logger.Warn("vision call failed",
			"request_id", middleware.RequestIDFrom(r.Context()),
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		return transport, http.StatusInternalServerError, remoteFailure(err)
	}
	return transport, http.StatusOK, analysis
}

// readMultipart extracts the "image" file. Temp files spilled by the parser
// are removed before returning on every path.
func (h *Handler) readMultipart(r *http.Request) (string, int, string) {
	err := r.ParseMultipartForm(h.cfg.MultipartMemory)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		if isTooLarge(err) {
			return "", http.StatusRequestEntityTooLarge, msgTooLarge
		}
		return "", http.StatusBadRequest, "malformed multipart body"
	}

	file, hdr, err := r.FormFile("image")
	if err != nil {
		return "", http.StatusBadRequest, msgNoImage
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", http.StatusBadRequest, "could not read image file"
	}
	ref, err := vision.ImageRefFromBytes(data, hdr.Header.Get("Content-Type"))
	if err != nil {
		return "", http.StatusBadRequest, inputDetail(err)
	}
	return ref, 0, ""
}

// readJSON validates {"imageData": ...} and normalizes the reference.
func (h *Handler) readJSON(r *http.Request) (string, int, string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		if isTooLarge(err) {
			return "", http.StatusRequestEntityTooLarge, msgTooLarge
		}
		return "", http.StatusBadRequest, "could not read request body"
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", http.StatusBadRequest, "invalid JSON body"
	}
	if err := h.schema.Validate(v); err != nil {
		return "", http.StatusBadRequest, `request body must be {"imageData": "<base64 or data URL>"}`
	}

	ref, err := vision.NormalizeImageRef(v.(map[string]any)["imageData"].(string))
	if err != nil {
		return "", http.StatusBadRequest, inputDetail(err)
	}
	return ref, 0, ""
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorBody{Error: msgMethodNotAllowed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// remoteFailure builds the 500 body for a failed vision call. The provider's
// status goes into Error and its body into Details, unchanged. Code lets the
// client tell a remote timeout from other failures.
func remoteFailure(err error) domain.ErrorBody {
	body := domain.ErrorBody{Error: msgAnalyzeFailed, Code: domain.ErrorCodeOf(err)}
	var rme *domain.RemoteModelError
	switch {
	case errors.As(err, &rme) && rme.Status > 0:
		body.Error = fmt.Sprintf("vision API error %d", rme.Status)
		body.Details = rawDetails(rme.Body)
	case body.Code == domain.CodeRemoteTimeout:
		body.Error = msgRemoteTimeout
		body.Details = rawDetails(err.Error())
	default:
		body.Details = rawDetails(err.Error())
	}
	return body
}

// rawDetails keeps s as-is when it is JSON and encodes it as a JSON string
// otherwise.
func rawDetails(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func inputDetail(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
