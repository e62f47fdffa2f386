package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/StrandLabs/strand/config"
	"github.com/StrandLabs/strand/da"
	"github.com/StrandLabs/strand/store"
	"github.com/StrandLabs/strand/transport"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Rate-limit categories. Each bucket is sized independently so a burst
// of KV traffic cannot starve uploads and vice versa.
const (
	limitStorage = "storage"
	limitKV      = "kv"
	limitDA      = "da"
	limitSystem  = "system"
	limitDefault = "default"
)

// healthCacheTTL bounds how often a health poll actually touches the
// network.
const healthCacheTTL = 5 * time.Second

type Config struct {
	Logger   *slog.Logger
	Cfg      *config.Config
	Client   transport.Client
	Blobs    *store.BlobStore
	KV       *store.KVStore
	Selector *store.NodeSelector
	Batch    *store.BatchCoordinator
	Cost     *store.Estimator
	DA       *da.Service
}

type Service struct {
	logger   *slog.Logger
	cfg      *config.Config
	client   transport.Client
	blobs    *store.BlobStore
	kv       *store.KVStore
	selector *store.NodeSelector
	batch    *store.BatchCoordinator
	cost     *store.Estimator
	da       *da.Service

	limiters map[string]*rate.Limiter
	health   *ttlcache.Cache[string, healthReport]

	httpServer *http.Server
}

func New(cfg Config) *Service {
	rl := cfg.Cfg.RateLimiters
	limiters := map[string]*rate.Limiter{
		limitStorage: rate.NewLimiter(rate.Limit(rl.Storage.Limit), rl.Storage.Burst),
		limitKV:      rate.NewLimiter(rate.Limit(rl.KV.Limit), rl.KV.Burst),
		limitDA:      rate.NewLimiter(rate.Limit(rl.DA.Limit), rl.DA.Burst),
		limitSystem:  rate.NewLimiter(rate.Limit(rl.System.Limit), rl.System.Burst),
		limitDefault: rate.NewLimiter(rate.Limit(rl.Default.Limit), rl.Default.Burst),
	}
	for name, l := range limiters {
		if l.Limit() <= 0 {
			limiters[name] = rate.NewLimiter(rate.Limit(rl.Default.Limit), rl.Default.Burst)
		}
	}

	health := ttlcache.New[string, healthReport](
		ttlcache.WithTTL[string, healthReport](healthCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, healthReport](),
	)
	go health.Start()

	return &Service{
		logger:   cfg.Logger.WithGroup("service"),
		cfg:      cfg.Cfg,
		client:   cfg.Client,
		blobs:    cfg.Blobs,
		kv:       cfg.KV,
		selector: cfg.Selector,
		batch:    cfg.Batch,
		cost:     cfg.Cost,
		da:       cfg.DA,
		limiters: limiters,
		health:   health,
	}
}

// Run blocks serving HTTP until the listener fails or Stop is called.
func (s *Service) Run() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPBinding,
		Handler: s.Routes(),
	}
	s.logger.Info("service starting", "binding", s.cfg.HTTPBinding)
	return s.httpServer.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	s.health.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Routes builds the full route table. Exposed so tests can drive the
// handler without a listener.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /storage/upload", s.limited(limitStorage, s.uploadHandler))
	mux.HandleFunc("POST /storage/upload-multiple", s.limited(limitStorage, s.uploadMultipleHandler))
	mux.HandleFunc("GET /storage/download/{rootHash}", s.limited(limitStorage, s.downloadHandler))
	mux.HandleFunc("POST /storage/receipt/{id}/attachment", s.limited(limitStorage, s.receiptAttachmentHandler))
	mux.HandleFunc("GET /storage/receipt/{id}/attachments", s.limited(limitStorage, s.receiptAttachmentsHandler))
	mux.HandleFunc("POST /storage/kv", s.limited(limitKV, s.kvWriteHandler))
	mux.HandleFunc("GET /storage/kv/{streamId}/{key}", s.limited(limitKV, s.kvReadHandler))
	mux.HandleFunc("POST /storage/kv/batch", s.limited(limitKV, s.kvBatchHandler))
	mux.HandleFunc("GET /storage/nodes/select", s.limited(limitStorage, s.nodesSelectHandler))
	mux.HandleFunc("POST /storage/upload-batch", s.limited(limitStorage, s.uploadBatchHandler))
	mux.HandleFunc("GET /storage/health", s.limited(limitSystem, s.healthHandler))

	mux.HandleFunc("POST /da/submit", s.limited(limitDA, s.daSubmitHandler))
	mux.HandleFunc("POST /da/submit-batch", s.limited(limitDA, s.daSubmitBatchHandler))
	mux.HandleFunc("GET /da/retrieve/{commitment}", s.limited(limitDA, s.daRetrieveHandler))
	mux.HandleFunc("GET /da/verify/{commitment}", s.limited(limitDA, s.daVerifyHandler))
	mux.HandleFunc("GET /da/status/{commitment}", s.limited(limitDA, s.daStatusHandler))
	mux.HandleFunc("POST /da/estimate-cost", s.limited(limitDefault, s.daEstimateCostHandler))

	return mux
}

func (s *Service) limited(category string, next http.HandlerFunc) http.HandlerFunc {
	limiter, ok := s.limiters[category]
	if !ok {
		limiter = s.limiters[limitDefault]
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// Every response body carries a boolean success marker; failures travel
// as data, never as bare status codes.
func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil {
		return errors.New("request body is not valid JSON for this route")
	}
	return nil
}

func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
