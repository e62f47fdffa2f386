package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/store"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

const (
	maxMultipleFiles = 10
	maxBatchFiles    = 20

	// Memory ceiling for multipart parsing; larger parts spill to disk.
	multipartMemory = 32 << 20
)

func (s *Service) allowedMime(mimeType string) bool {
	for _, t := range s.cfg.Storage.AllowedMimeTypes {
		if strings.EqualFold(t, mimeType) {
			return true
		}
	}
	return false
}

// checkFile enforces the boundary constraints shared by every upload
// route: size cap and MIME allow list.
func (s *Service) checkFile(header *multipart.FileHeader) (string, error) {
	if header.Size > s.cfg.Storage.MaxFileSize {
		return "", errors.Wrapf(store.ErrPayloadTooLarge, "'%s' is %d bytes, limit is %d", header.Filename, header.Size, s.cfg.Storage.MaxFileSize)
	}
	mimeType := header.Header.Get("Content-Type")
	if !s.allowedMime(mimeType) {
		return "", errors.Errorf("file type '%s' is not allowed", mimeType)
	}
	return mimeType, nil
}

// boundaryStatus maps checkFile failures: the size cap is 413, every
// other boundary rejection is a plain bad request.
func boundaryStatus(err error) int {
	if errors.Is(err, store.ErrPayloadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func statusForStoreError(err error) int {
	switch {
	case errors.Is(err, store.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNoSigner), errors.Is(err, store.ErrFlowNotConfigured):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDownloadFailed):
		return http.StatusNotFound
	case errors.Is(err, store.ErrProofVerification):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with a 'file' field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	mimeType, err := s.checkFile(header)
	if err != nil {
		s.writeError(w, boundaryStatus(err), err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	blob, err := s.blobs.Upload(ctx, file)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"rootHash": blob.RootHash,
		"txHash":   blob.TxHash,
		"filename": header.Filename,
		"size":     blob.Size,
		"type":     mimeType,
	})
}

// collectFiles validates the multipart "files" field against a count
// cap and the per-file constraints.
func (s *Service) collectFiles(r *http.Request, maxFiles int) ([]*multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, errors.New("expected multipart form with a 'files' field")
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["files[]"]
	}
	if len(headers) == 0 {
		return nil, errors.New("no files provided")
	}
	if len(headers) > maxFiles {
		return nil, errors.Errorf("too many files: %d exceeds limit of %d", len(headers), maxFiles)
	}
	return headers, nil
}

func (s *Service) runBatchUpload(w http.ResponseWriter, r *http.Request, maxFiles int, ownerRef string) {
	headers, err := s.collectFiles(r, maxFiles)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]store.UploadItem, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, header := range headers {
		mimeType, err := s.checkFile(header)
		if err != nil {
			s.writeError(w, boundaryStatus(err), err.Error())
			return
		}
		f, err := header.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("could not open '%s'", header.Filename))
			return
		}
		opened = append(opened, f)
		items = append(items, store.UploadItem{
			Name:     header.Filename,
			MimeType: mimeType,
			Payload:  f,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	result := s.batch.BatchUpload(ctx, items, ownerRef)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Service) uploadMultipleHandler(w http.ResponseWriter, r *http.Request) {
	s.runBatchUpload(w, r, maxMultipleFiles, "")
}

func (s *Service) uploadBatchHandler(w http.ResponseWriter, r *http.Request) {
	s.runBatchUpload(w, r, maxBatchFiles, r.FormValue("ownerRef"))
}

func (s *Service) downloadHandler(w http.ResponseWriter, r *http.Request) {
	rootHash := r.PathValue("rootHash")

	withProof := true
	if v := r.URL.Query().Get("proof"); v != "" {
		withProof = v != "false"
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Transfer)
	defer cancel()

	data, err := s.blobs.Download(ctx, rootHash, withProof)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = rootHash
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("download stream interrupted", "rootHash", rootHash, "error", err)
	}
}

func (s *Service) receiptAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	ownerRef := r.PathValue("id")

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with a 'file' field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	mimeType, err := s.checkFile(header)
	if err != nil {
		s.writeError(w, boundaryStatus(err), err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	blob, meta, err := s.blobs.UploadAttachment(ctx, file, header.Filename, mimeType, ownerRef)
	if err != nil && !store.IsKVWriteFailure(err) {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	body := map[string]any{
		"success":  true,
		"rootHash": blob.RootHash,
		"txHash":   blob.TxHash,
		"metadata": meta,
	}
	if err != nil {
		// Blob stored, metadata write failed. Still a success.
		body["warning"] = "metadata write failed; attachment is stored but may not be listed"
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Service) receiptAttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	ownerRef := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Transfer)
	defer cancel()

	attachments, err := s.blobs.Attachments(ctx, ownerRef)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"id":          ownerRef,
		"attachments": attachments,
	})
}

func (s *Service) kvWriteHandler(w http.ResponseWriter, r *http.Request) {
	var payload models.KVPayload
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Key == "" {
		s.writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	txHash, err := s.kv.Write(ctx, payload.StreamID, payload.Key, payload.Value)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"txHash":  txHash,
	})
}

func (s *Service) kvReadHandler(w http.ResponseWriter, r *http.Request) {
	streamID, err := strconv.ParseUint(r.PathValue("streamId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "streamId must be an unsigned integer")
		return
	}
	key := r.PathValue("key")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Transfer)
	defer cancel()

	value, err := s.kv.Read(ctx, streamID, key)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"streamId": streamID,
		"key":      key,
		"value":    value,
	})
}

func (s *Service) kvBatchHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Operations []models.KVOperation `json:"operations"`
	}
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(payload.Operations) == 0 {
		s.writeError(w, http.StatusBadRequest, "operations must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	txHash, err := s.kv.BatchWrite(ctx, payload.Operations)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"txHash":     txHash,
		"operations": len(payload.Operations),
	})
}

func (s *Service) nodesSelectHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var segment, replicas uint64
	if v := q.Get("segmentNumber"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "segmentNumber must be an unsigned integer")
			return
		}
		segment = n
	}
	if v := q.Get("expectedReplicas"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "expectedReplicas must be an unsigned integer")
			return
		}
		replicas = n
	}
	var excluded []string
	if v := q.Get("excludedNodes"); v != "" {
		excluded = strings.Split(v, ",")
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Probe)
	defer cancel()

	nodes, err := s.selector.Select(ctx, segment, replicas, excluded)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"nodes":   nodes,
	})
}

type healthDetails struct {
	RPCURL           string `json:"rpcUrl"`
	IndexerURL       string `json:"indexerUrl"`
	KVNodeURL        string `json:"kvNodeUrl"`
	BlockNumber      uint64 `json:"blockNumber"`
	WalletConfigured bool   `json:"walletConfigured"`
	UploadsEnabled   bool   `json:"uploadsEnabled"`
}

type healthReport struct {
	Success bool          `json:"success"`
	Healthy bool          `json:"healthy"`
	Details healthDetails `json:"details"`
}

// healthHandler degrades gracefully: an unreachable network yields
// healthy:false with diagnostic detail, never an error status.
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	if item := s.health.Get("health"); item != nil {
		s.writeJSON(w, http.StatusOK, item.Value())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Probe)
	defer cancel()

	walletConfigured := s.cfg.Network.Signer != ""
	report := healthReport{
		Success: true,
		Details: healthDetails{
			RPCURL:           s.cfg.Network.RPCURL,
			IndexerURL:       s.cfg.Network.IndexerURL,
			KVNodeURL:        s.cfg.Network.KVNodeURL,
			WalletConfigured: walletConfigured,
		},
	}

	if err := s.client.Ping(ctx); err != nil {
		s.logger.Warn("health probe failed", "error", err)
		s.writeJSON(w, http.StatusOK, report)
		return
	}

	block, err := s.client.BlockNumber(ctx)
	if err != nil {
		s.logger.Warn("block number probe failed", "error", err)
		s.writeJSON(w, http.StatusOK, report)
		return
	}

	report.Healthy = true
	report.Details.BlockNumber = block
	report.Details.UploadsEnabled = walletConfigured
	s.health.Set("health", report, ttlcache.DefaultTTL)

	s.writeJSON(w, http.StatusOK, report)
}
