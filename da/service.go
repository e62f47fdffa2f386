package da

import (
	"context"
	"log/slog"
	"time"

	"github.com/StrandLabs/strand/config"
	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/store"
	"github.com/StrandLabs/strand/transport"
	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

// statusCacheTTL bounds how long an observed status pins the floor for a
// commitment. Long enough to smooth over a flapping disperser, short
// enough that the cache does not grow without bound.
const statusCacheTTL = 10 * time.Minute

// detailCacheTTL bounds how long submit-time dispersal details (blob
// hash, data size, batch id) are recalled for status reports.
const detailCacheTTL = time.Hour

// Service is the availability-attestation layer. Submissions yield a
// commitment; the commitment's status is strictly poll-driven and only
// ever advances: once the service has reported confirmed it never
// reports pending again, even if the network momentarily does.
type Service struct {
	logger *slog.Logger
	client transport.Client
	cfg    config.DA

	// Highest status observed per commitment. The floor for what the
	// service reports.
	seen *ttlcache.Cache[string, models.DAStatus]

	// Dispersal details recorded at submit time, keyed by commitment.
	details *ttlcache.Cache[string, models.DACommitment]
}

func New(logger *slog.Logger, client transport.Client, cfg config.DA) *Service {
	seen := ttlcache.New[string, models.DAStatus](
		ttlcache.WithTTL[string, models.DAStatus](statusCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, models.DAStatus](),
	)
	go seen.Start()

	details := ttlcache.New[string, models.DACommitment](
		ttlcache.WithTTL[string, models.DACommitment](detailCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, models.DACommitment](),
	)
	go details.Start()

	return &Service{
		logger:  logger.WithGroup("da"),
		client:  client,
		cfg:     cfg,
		seen:    seen,
		details: details,
	}
}

func (s *Service) Stop() {
	s.seen.Stop()
	s.details.Stop()
}

func (s *Service) securityParams() models.SecurityParams {
	return models.SecurityParams{
		QuorumID:              s.cfg.QuorumID,
		AdversaryThreshold:    s.cfg.AdversaryThreshold,
		ConfirmationThreshold: s.cfg.ConfirmationThreshold,
	}
}

// Submit disperses raw bytes to the attestation network. The size gate
// runs before any network traffic.
func (s *Service) Submit(ctx context.Context, data []byte) (*models.DASubmission, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot submit empty payload")
	}
	if int64(len(data)) > s.cfg.MaxBlobSize {
		return nil, errors.Wrapf(store.ErrPayloadTooLarge, "%d bytes exceeds limit of %d", len(data), s.cfg.MaxBlobSize)
	}

	commitment, blobHash, batchID, err := s.client.Disperse(ctx, data, s.securityParams())
	if err != nil {
		s.logger.Error("dispersal failed", "size", len(data), "error", err)
		return nil, errors.Wrap(err, "dispersal failed")
	}

	s.seen.Set(commitment, models.DAStatusPending, ttlcache.DefaultTTL)
	s.details.Set(commitment, models.DACommitment{
		Commitment: commitment,
		BlobHash:   blobHash,
		DataSize:   int64(len(data)),
		BatchID:    batchID,
		QuorumID:   s.cfg.QuorumID,
	}, ttlcache.DefaultTTL)
	s.logger.Info("payload dispersed", "commitment", commitment, "size", len(data), "batchId", batchID)

	return &models.DASubmission{
		Commitment:            commitment,
		BlobHash:              blobHash,
		BatchID:               batchID,
		DataSize:              int64(len(data)),
		EstimatedFinalization: time.Now().UTC().Add(s.cfg.FinalizationLatency),
	}, nil
}

// SubmitRecord validates and disperses a structured record.
func (s *Service) SubmitRecord(ctx context.Context, record *models.DARecord) (*models.DASubmission, error) {
	data, err := MarshalRecord(record)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, data)
}

// Retrieve fetches dispersed bytes by commitment. When the payload
// parses as a structurally valid record, verified is true; otherwise the
// raw bytes are returned with verified false so callers can still
// inspect what the network holds.
func (s *Service) Retrieve(ctx context.Context, commitment string, blobIndex int) ([]byte, bool, error) {
	data, err := s.client.RetrieveDispersal(ctx, commitment, blobIndex)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return nil, false, errors.Wrap(store.ErrNotFound, "unknown commitment")
		}
		return nil, false, errors.Wrap(err, "retrieval failed")
	}

	record, err := UnmarshalRecord(data)
	if err != nil {
		return data, false, nil
	}
	if err := ValidateRecord(record); err != nil {
		s.logger.Debug("retrieved payload failed record validation", "commitment", commitment, "error", err)
		return data, false, nil
	}
	return data, true, nil
}

// CheckAvailability is a boolean existence probe. Any failure reads as
// unavailable; callers needing the cause should use GetStatus.
func (s *Service) CheckAvailability(ctx context.Context, commitment string) bool {
	exists, err := s.client.DispersalExists(ctx, commitment)
	if err != nil {
		s.logger.Debug("availability probe failed", "commitment", commitment, "error", err)
		return false
	}
	return exists
}

// GetStatus polls the network and reports the commitment's status,
// clamped so it never moves backward relative to what this service has
// already reported.
func (s *Service) GetStatus(ctx context.Context, commitment string) (models.DAStatus, error) {
	code, err := s.client.DispersalStatus(ctx, commitment)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return "", errors.Wrap(store.ErrNotFound, "unknown commitment")
		}
		return "", errors.Wrap(err, "status poll failed")
	}

	status := models.StatusFromCode(code)
	if item := s.seen.Get(commitment); item != nil && item.Value().Rank() > status.Rank() {
		s.logger.Warn("network reported regressed status, holding floor",
			"commitment", commitment, "reported", status, "held", item.Value())
		return item.Value(), nil
	}

	s.seen.Set(commitment, status, ttlcache.DefaultTTL)
	return status, nil
}

// GetCommitment reports the live status of a commitment together with
// the dispersal details recorded when this service submitted it.
// Commitments dispersed elsewhere, or longer ago than the recall window,
// come back with the detail fields empty; the status is always current.
func (s *Service) GetCommitment(ctx context.Context, commitment string) (*models.DACommitment, error) {
	status, err := s.GetStatus(ctx, commitment)
	if err != nil {
		return nil, err
	}

	c := models.DACommitment{
		Commitment: commitment,
		QuorumID:   s.cfg.QuorumID,
	}
	if item := s.details.Get(commitment); item != nil {
		c = item.Value()
	}
	c.Status = status
	return &c, nil
}

// WaitForFinalization polls until the commitment finalizes, the poll
// budget is exhausted, or the context ends. On budget exhaustion the
// last observed status is returned alongside the error.
func (s *Service) WaitForFinalization(ctx context.Context, commitment string) (models.DAStatus, error) {
	last := models.DAStatusPending

	status, err := backoff.Retry(ctx, func() (models.DAStatus, error) {
		st, err := s.GetStatus(ctx, commitment)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		last = st
		if st != models.DAStatusFinalized {
			return "", errors.Errorf("commitment is %s", st)
		}
		return st, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.PollInterval)),
		backoff.WithMaxTries(uint(s.cfg.MaxPollAttempts)),
	)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		return last, errors.Wrapf(err, "commitment did not finalize within %d polls", s.cfg.MaxPollAttempts)
	}
	return status, nil
}
