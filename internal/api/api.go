// Package api serves api rule sets over http.
//
// Every request to /{endPoint} or /{endPoint}/{id} runs the single active
// api rule set matching its method and endpoint and answers with the
// envelope
//
//	{"data": <action results>, "dt": <RFC 3339 time>, "apiVersion": <settings api.version>, "error": <message>}
//
// The status is 200 unless an action result carries an internalError, in
// which case the first such error sets the status and message. Each
// request is recorded in the apiLog collection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/rules"
	"github.com/roach88/docrules/internal/trigger"
)

// LogCollection receives one document per handled request.
const LogCollection = "apiLog"

// ScheduledPath runs the scheduled rule sets due now.
const ScheduledPath = "/_rules/scheduled"

const maxBodyBytes = 10 << 20

// LogWriter stores request log documents.
type LogWriter interface {
	AddDoc(ctx context.Context, collection string, data map[string]any, id string) (string, error)
}

// ScheduledRunner starts the scheduled rule sets due now.
type ScheduledRunner interface {
	RunNow(ctx context.Context) (int, error)
}

// Envelope is the body of every rules response.
type Envelope struct {
	Data       any    `json:"data"`
	DT         string `json:"dt"`
	APIVersion string `json:"apiVersion"`
	Error      string `json:"error"`
}

// Handler serves api rule sets.
type Handler struct {
	trigger   *trigger.APITrigger
	logs      LogWriter
	scheduled ScheduledRunner
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogWriter records every request in the apiLog collection of w.
func WithLogWriter(w LogWriter) Option {
	return func(h *Handler) { h.logs = w }
}

// WithScheduled serves ScheduledPath with s.
func WithScheduled(s ScheduledRunner) Option {
	return func(h *Handler) { h.scheduled = s }
}

// WithClock sets the clock for the dt field and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a handler over trig.
func New(trig *trigger.APITrigger, opts ...Option) *Handler {
	h := &Handler{trigger: trig, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	if "/"+path == ScheduledPath && h.scheduled != nil {
		h.handleScheduled(w, r)
		return
	}

	segments := strings.Split(path, "/")
	if path == "" || len(segments) > 2 {
		h.respond(r.Context(), w, http.StatusNotFound, map[string]any{}, "Internal error: "+rules.ErrNoRulesMatch.Error())
		return
	}
	endPoint, id := segments[0], ""
	if len(segments) == 2 {
		id = segments[1]
	}

	req, err := requestFact(r, endPoint, id)
	if err != nil {
		h.respond(r.Context(), w, http.StatusBadRequest, map[string]any{}, "Internal error: "+err.Error())
		return
	}

	out, err := h.trigger.Handle(r.Context(), r.Method, endPoint, req, h.finished)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, rules.ErrNoRulesMatch) {
			status = http.StatusNotFound
		}
		h.logger.Error("api request failed", "method", r.Method, "endPoint", endPoint, "error", err)
		h.respond(r.Context(), w, status, map[string]any{}, "Internal error: "+err.Error())
		return
	}

	results := out.ActionResults
	if results == nil {
		results = map[string]any{}
	}
	code, message := firstInternalError(results, ActionOrder(out))

	h.record(r.Context(), req, results, code, message)
	h.respond(r.Context(), w, code, results, message)
}

func (h *Handler) finished(_ context.Context, results map[string]any) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	h.logger.Debug("api actions finished", "actions", names)
}

func (h *Handler) handleScheduled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respond(r.Context(), w, http.StatusMethodNotAllowed, map[string]any{}, "method not allowed")
		return
	}
	n, err := h.scheduled.RunNow(r.Context())
	if err != nil {
		h.respond(r.Context(), w, http.StatusInternalServerError, map[string]any{}, "Internal error: "+err.Error())
		return
	}
	h.respond(r.Context(), w, http.StatusOK, map[string]any{"started": n}, "")
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, status int, data any, message string) {
	env := Envelope{
		Data:       data,
		DT:         h.now().UTC().Format(time.RFC3339Nano),
		APIVersion: h.apiVersion(ctx),
		Error:      message,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("write api response", "error", err)
	}
}

func (h *Handler) apiVersion(ctx context.Context) string {
	s := h.trigger.Settings()
	if err := s.Load(ctx); err != nil {
		h.logger.Warn("api settings not loaded", "error", err)
	}
	return s.APIVersion()
}

// record writes the apiLog document for one request.
func (h *Handler) record(ctx context.Context, req, results map[string]any, code int, message string) {
	if h.logs == nil {
		return
	}
	params, _ := req["params"].(map[string]any)
	now := ir.TimestampOf(h.now()).Value()
	entry := map[string]any{
		"endPoint":       params["endPoint"],
		"id":             params["id"],
		"method":         req["method"],
		"requestHeaders": req["headers"],
		"requestData":    req["body"],
		"url":            req["url"],
		"remoteIp":       req["remoteIp"],
		"requestTime":    now,
		"responseData":   results,
		"responseTime":   now,
		"code":           code,
		"error":          message,
	}
	if _, err := h.logs.AddDoc(ctx, LogCollection, entry, ""); err != nil {
		h.logger.Error("write api log", "error", err)
	}
}

// requestFact builds the request fact: method, url, headers (lower-cased
// names), query, body, params {endPoint, id} and remoteIp. A JSON body is
// decoded; any other body is kept as text.
func requestFact(r *http.Request, endPoint, id string) (map[string]any, error) {
	headers := make(map[string]any, len(r.Header))
	for name, values := range r.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	query := make(map[string]any)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var body any = map[string]any{}
	if len(raw) > 0 {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, fmt.Errorf("decode body: %w", err)
			}
		} else {
			body = string(raw)
		}
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	return map[string]any{
		"method":   r.Method,
		"url":      r.URL.RequestURI(),
		"headers":  headers,
		"query":    query,
		"body":     body,
		"params":   map[string]any{"endPoint": endPoint, "id": id},
		"remoteIp": remote,
	}, nil
}

// ActionOrder lists the actions of out in the order they were dispatched:
// rules in evaluation order, each rule's outcome actions in written order.
func ActionOrder(out *rules.Outcome) []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	used := make([]bool, len(out.Rules))
	for _, res := range out.Results {
		for i, r := range out.Rules {
			if used[i] || r.Name != res.Name {
				continue
			}
			used[i] = true
			acts := r.OnFailure
			if res.Result {
				acts = r.OnSuccess
			}
			for _, a := range acts {
				add(a.Name)
			}
			break
		}
	}
	rest := make([]string, 0)
	for name := range out.ActionResults {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// firstInternalError returns the status and message of the first action
// result in order carrying an internalError, or 200 and "".
func firstInternalError(results map[string]any, order []string) (int, string) {
	for _, name := range order {
		ie, ok := actions.AsInternalError(results[name])
		if !ok {
			continue
		}
		code := ie.Code
		if code == 0 {
			code = http.StatusInternalServerError
		}
		return code, fmt.Sprintf("Internal error (%s): %s", name, ie.Message)
	}
	return http.StatusOK, ""
}
