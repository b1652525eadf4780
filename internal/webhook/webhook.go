package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/bucketsyncd/internal/activation"
	"github.com/schaermu/bucketsyncd/internal/config"
	"github.com/schaermu/bucketsyncd/internal/metrics"
	"github.com/schaermu/bucketsyncd/internal/store"
	bucketsync "github.com/schaermu/bucketsyncd/internal/sync"
)

const debounceDelay = 2 * time.Second

// BucketEvent represents the relevant fields of an S3 / MinIO bucket
// notification.
type BucketEvent struct {
	Records []EventRecord `json:"Records"`
}

// EventRecord is a single notification record.
type EventRecord struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			// Key is URL-encoded by the store.
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// Server implements the webhook HTTP server
type Server struct {
	cfg         *config.Config
	store       store.Client
	logger      *slog.Logger
	token       []byte
	prefix      string
	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool       // whether a sync is currently in progress
	syncPending bool       // whether another sync is needed after the current one
	debounce    *debouncer
	runCtx      context.Context
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, client store.Client, logger *slog.Logger) (*Server, error) {
	// Load webhook token from file
	token, err := os.ReadFile(cfg.Serve.WebhookTokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook token: %w", err)
	}

	// Trim any whitespace/newlines from token
	token = []byte(strings.TrimSpace(string(token)))
	if len(token) == 0 {
		return nil, fmt.Errorf("webhook token file %s is empty", cfg.Serve.WebhookTokenFile)
	}

	s := &Server{
		cfg:    cfg,
		store:  client,
		logger: logger,
		token:  token,
		prefix: bucketsync.NormalizePrefix(cfg.Store.Prefix),
		debounce: &debouncer{
			delay: debounceDelay,
		},
		runCtx: context.Background(),
	}

	return s, nil
}

// Handler returns the HTTP handler serving the webhook, health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	metricsPath := s.cfg.Serve.MetricsPath
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}
	mux.Handle(metricsPath, metrics.Handler())
	return mux
}

// Start starts the webhook HTTP server, performing an initial sync first.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx

	s.logger.Info("performing initial sync before starting webhook server")
	s.performSync(ctx)

	listeners, activated, err := activation.Listen(s.cfg.Serve.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to set up listeners: %w", err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			s.logger.Info("webhook server starting",
				"addr", ln.Addr().String(),
				"socket_activated", activated)
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(ln)
	}

	if s.cfg.Serve.PollInterval > 0 {
		go s.poll(ctx, s.cfg.Serve.PollInterval)
	}

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.debounce.stop()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		_ = server.Close()
		return err
	}
}

// poll triggers a sync every interval until ctx is done.
func (s *Server) poll(ctx context.Context, interval time.Duration) {
	s.logger.Info("periodic sync enabled", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Debug("poll interval elapsed")
			s.performSync(ctx)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok\n")
}

// handleWebhook handles incoming bucket notification requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.reply(w, http.StatusNotFound, "Not found")
		return
	}

	// Only accept POST requests
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		s.reply(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		s.reply(w, http.StatusBadRequest, "Invalid content type")
		return
	}

	// Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		s.reply(w, http.StatusInternalServerError, "Failed to read body")
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.authenticate(r, body) {
		s.logger.Warn("rejecting request with invalid credentials")
		s.reply(w, http.StatusForbidden, "Invalid credentials")
		return
	}

	var event BucketEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		s.reply(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	relevant := s.relevantRecords(event)
	s.logger.Info("received bucket notification",
		"records", len(event.Records),
		"relevant", len(relevant))

	if len(relevant) == 0 {
		s.reply(w, http.StatusOK, "No relevant records")
		return
	}

	for _, rec := range relevant {
		s.logger.Info("webhook accepted", "event", rec.EventName, "key", rec.S3.Object.Key)
	}

	// Trigger debounced sync
	s.debounce.trigger(func() {
		s.performSync(s.runCtx)
	})

	s.reply(w, http.StatusOK, "Sync triggered")
}

func (s *Server) reply(w http.ResponseWriter, status int, msg string) {
	metrics.RecordWebhookRequest(status)
	if status >= http.StatusBadRequest {
		http.Error(w, msg, status)
		return
	}
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%s\n", msg)
}

// authenticate accepts either the shared token as a bearer token (MinIO
// auth_token) or an HMAC-SHA256 signature of the body keyed with it.
func (s *Server) authenticate(r *http.Request, body []byte) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return s.verifyToken(auth)
	}
	return s.verifySignature(body, r.Header.Get("X-Signature-256"))
}

// verifyToken checks an Authorization header value against the token
func (s *Server) verifyToken(auth string) bool {
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(strings.TrimSpace(token)), s.token)
}

// verifySignature verifies a sha256=<hex> body signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	// Compute expected signature
	mac := hmac.New(sha256.New, s.token)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// relevantRecords returns the records for the configured bucket and prefix
// with an allowed event type. Object keys are URL-decoded in place.
func (s *Server) relevantRecords(event BucketEvent) []EventRecord {
	relevant := make([]EventRecord, 0, len(event.Records))
	for _, rec := range event.Records {
		if rec.S3.Bucket.Name != s.cfg.Store.Bucket {
			s.logger.Debug("ignoring record for other bucket", "bucket", rec.S3.Bucket.Name)
			continue
		}
		if !s.isEventTypeAllowed(rec.EventName) {
			s.logger.Debug("ignoring disallowed event type", "event", rec.EventName)
			continue
		}

		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			s.logger.Warn("ignoring record with malformed key", "key", rec.S3.Object.Key, "error", err)
			continue
		}
		if !strings.HasPrefix(key, s.prefix) {
			s.logger.Debug("ignoring record outside prefix", "key", key)
			continue
		}

		rec.S3.Object.Key = key
		relevant = append(relevant, rec)
	}
	return relevant
}

// isEventTypeAllowed checks the event name against the allowed prefixes
func (s *Server) isEventTypeAllowed(eventName string) bool {
	if len(s.cfg.Serve.AllowedEventTypes) == 0 {
		return true // no filter configured
	}

	for _, allowed := range s.cfg.Serve.AllowedEventTypes {
		if strings.HasPrefix(eventName, allowed) {
			return true
		}
	}
	return false
}

// performSync executes the sync operation with single-flight semantics.
// If a sync is already in progress, at most one additional run is queued;
// further concurrent requests are dropped to avoid unbounded goroutine pile-up.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		s.logger.Info("performing sync operation")

		engine := bucketsync.NewEngine(s.cfg, s.store, s.logger, false)
		if err := engine.Run(ctx); err != nil {
			s.logger.Error("sync failed", "error", err)
		}

		// Atomically check whether another sync was requested while we were
		// running. If not, release the running slot and stop; if yes, clear
		// the flag and loop to service that one pending request.
		s.syncMu.Lock()
		if !s.syncPending || ctx.Err() != nil {
			s.syncPending = false
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
