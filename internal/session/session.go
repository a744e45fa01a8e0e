// Package session implements the per-request audit trail: a Session
// collects timed Steps as a request moves through classification,
// enrichment, and backend dispatch, then is flushed to disk as a single
// JSON document for offline review.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	maxUserQueryChars = 500
	maxStepContent    = 2000

	cleanupInterval = 100 // saves between periodic cleanups
	cleanupPeriod   = 60 * time.Second
)

// Step records one timed leg of a request: a classifier call, a
// speculative or final backend call, or an enrichment fetch.
type Step struct {
	Step             string          `json:"step"`
	Provider         string          `json:"provider,omitempty"`
	URL              string          `json:"url,omitempty"`
	Model            string          `json:"model,omitempty"`
	Messages         json.RawMessage `json:"messages_sent,omitempty"`
	DurationMs       *int64          `json:"duration_ms"`
	Status           *int            `json:"status"`
	ResponseContent  string          `json:"response_content,omitempty"`
	FinishReason     string          `json:"finish_reason,omitempty"`
	Error            string          `json:"error,omitempty"`
	start            time.Time
}

// Session is an append-only trace for a single inbound request. Not safe
// for concurrent use by multiple goroutines on the same step — a request
// has exactly one owning goroutine even when it fans out internally,
// since the fan-out branches record into independent Steps.
type Session struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ClientIP      string          `json:"client_ip,omitempty"`
	UserQuery     string          `json:"user_query,omitempty"`
	ClientMessages json.RawMessage `json:"client_messages,omitempty"`
	Route         string          `json:"route,omitempty"`
	ClassificationRaw string       `json:"classification_raw,omitempty"`
	ClassificationMs  *int64       `json:"classification_ms,omitempty"`
	Steps         []*Step         `json:"steps"`
	TotalMs       *int64          `json:"total_ms"`
	Error         string          `json:"error,omitempty"`

	startTime time.Time
	mu        sync.Mutex
}

// New creates a Session with a fresh id and start timestamp.
func New() *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String()[:8],
		Timestamp: now,
		startTime: now,
		Steps:     make([]*Step, 0, 4),
	}
}

// SetQuery records the inbound message list, truncating the logged
// user-facing query to maxUserQueryChars while preserving the full
// message list verbatim for the on-disk trace.
func (s *Session) SetQuery(messages any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(messages)
	if err == nil {
		s.ClientMessages = raw
	}

	s.UserQuery = truncate(lastUserContent(messages), maxUserQueryChars)
}

// SetRoute records the classifier's chosen route alongside the raw
// decision text and the time classification took.
func (s *Session) SetRoute(route, rawDecision string, durationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Route = route
	s.ClassificationRaw = rawDecision
	s.ClassificationMs = &durationMs
}

// SetError records a terminal error for the request.
func (s *Session) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Error = err.Error()
	}
}

// BeginStep appends a new in-flight step and returns it so the caller can
// close it with EndStep once the call completes.
func (s *Session) BeginStep(step, provider, url, model string, messages any) *Step {
	st := &Step{
		Step:     step,
		Provider: provider,
		URL:      url,
		Model:    model,
		start:    time.Now(),
	}
	if messages != nil {
		if raw, err := json.Marshal(messages); err == nil {
			st.Messages = raw
		}
	}

	s.mu.Lock()
	s.Steps = append(s.Steps, st)
	s.mu.Unlock()
	return st
}

// EndStep closes a step opened with BeginStep, recording its duration and
// outcome. Passing a non-nil err records an "[error: ...]" marker
// instead of the response content; only response content is truncated.
func (st *Step) EndStep(status int, responseContent, finishReason string, err error) {
	d := time.Since(st.start).Milliseconds()
	st.DurationMs = &d
	if status != 0 {
		st.Status = &status
	}
	st.FinishReason = finishReason
	if err != nil {
		st.Error = err.Error()
		st.ResponseContent = fmt.Sprintf("[error: %s]", err.Error())
		return
	}
	st.ResponseContent = truncate(responseContent, maxStepContent)
}

// RebaseStart backdates the step's start time, used when a speculative
// call is adopted as the final answer: the recorded duration should
// reflect the true speculative start, not the moment the dispatch engine
// decided to adopt it.
func (st *Step) RebaseStart(t time.Time) { st.start = t }

// Logger writes structured per-request summary/slow-request log lines,
// mirroring the original service's _log_request_summary.
type Logger struct {
	log        *slog.Logger
	thresholds map[string]int64
}

// NewLogger builds a Logger with the default per-route slow-request
// thresholds (milliseconds): primary/meta 5000, xai 30000, enrich 60000.
func NewLogger(log *slog.Logger) *Logger {
	return &Logger{
		log: log,
		thresholds: map[string]int64{
			"primary": 5000,
			"meta":    5000,
			"xai":     30000,
			"enrich":  60000,
		},
	}
}

// LogSummary computes total/classify/inference/enrich durations from the
// session's steps and logs a single structured summary line, plus a
// SLOW_REQUEST warning when total exceeds the route's threshold.
func (l *Logger) LogSummary(s *Session) {
	s.mu.Lock()
	total := time.Since(s.startTime).Milliseconds()
	s.TotalMs = &total

	var inferenceMs, enrichMs int64
	for _, st := range s.Steps {
		if st.DurationMs == nil {
			continue
		}
		switch st.Step {
		case "provider_call":
			inferenceMs += *st.DurationMs
		case "enrichment":
			enrichMs += *st.DurationMs
		}
	}
	route := s.Route
	classifyMs := int64(0)
	if s.ClassificationMs != nil {
		classifyMs = *s.ClassificationMs
	}
	errStr := s.Error
	s.mu.Unlock()

	l.log.Info("request_summary",
		"session_id", s.ID,
		"route", route,
		"total_ms", total,
		"classify_ms", classifyMs,
		"inference_ms", inferenceMs,
		"enrich_ms", enrichMs,
		"error", errStr,
	)

	if threshold, ok := l.thresholds[route]; ok && total > threshold {
		l.log.Warn("SLOW_REQUEST",
			"session_id", s.ID,
			"route", route,
			"total_ms", total,
			"threshold_ms", threshold,
		)
	}
}

// Store persists Sessions to timestamped JSON files and prunes old ones.
type Store struct {
	dir        string
	maxAgeDays int
	maxCount   int
	log        *slog.Logger

	saveCount   atomic.Int64
	mu          sync.Mutex
	lastCleanup time.Time
}

// NewStore creates a Store rooted at <logDir>/sessions, creating the
// directory if it does not exist.
func NewStore(logDir string, maxAgeDays, maxCount int, log *slog.Logger) (*Store, error) {
	dir := filepath.Join(logDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:         dir,
		maxAgeDays:  maxAgeDays,
		maxCount:    maxCount,
		log:         log,
		lastCleanup: time.Now(),
	}, nil
}

// Save writes the session to <dir>/<timestamp>_<id>.json and runs
// periodic cleanup every cleanupInterval saves or cleanupPeriod elapsed,
// whichever comes first.
func (st *Store) Save(s *Session) error {
	s.mu.Lock()
	if s.TotalMs == nil {
		total := time.Since(s.startTime).Milliseconds()
		s.TotalMs = &total
	}
	data, err := json.Marshal(s)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	ts := s.Timestamp.Format("2006-01-02_15-04-05")
	name := fmt.Sprintf("%s_%s.json", ts, s.ID)
	path := filepath.Join(st.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	n := st.saveCount.Add(1)
	st.mu.Lock()
	due := n%cleanupInterval == 0 || time.Since(st.lastCleanup) > cleanupPeriod
	if due {
		st.lastCleanup = time.Now()
	}
	st.mu.Unlock()
	if due {
		st.cleanup()
	}
	return nil
}

// cleanup removes the oldest session files beyond maxCount and any file
// older than maxAgeDays, logging how many were removed.
func (st *Store) cleanup() {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(st.dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	removed := 0
	cutoff := time.Now().Add(-time.Duration(st.maxAgeDays) * 24 * time.Hour)
	excess := len(files) - st.maxCount

	for i, f := range files {
		byCount := i < excess
		byAge := f.modTime.Before(cutoff)
		if byCount || byAge {
			if err := os.Remove(f.path); err == nil {
				removed++
			}
		}
	}

	if removed > 0 && st.log != nil {
		st.log.Info("session_cleanup", "removed", removed, "remaining", len(files)-removed)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// lastUserContent extracts the last user-role message's content from a
// messages value of the shape []chatapi.Message (via duck-typed field
// access through JSON round-trip, so this package has no import-cycle
// dependency on chatapi).
func lastUserContent(messages any) string {
	raw, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	var generic []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ""
	}
	for i := len(generic) - 1; i >= 0; i-- {
		if generic[i].Role == "user" {
			return generic[i].Content
		}
	}
	return ""
}
