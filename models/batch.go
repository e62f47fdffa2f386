package models

import "time"

/*
	Batch operations never abort on first failure. Each item's outcome is
	isolated into its own slot; the summary is always produced.
*/

type BatchItemResult struct {
	Index    int    `json:"index"`
	Success  bool   `json:"success"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	RootHash string `json:"rootHash,omitempty"`
	TxHash   string `json:"txHash,omitempty"`
	Error    string `json:"error,omitempty"`
}

type BatchResult struct {
	Success    bool              `json:"success"`
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     []string          `json:"errors,omitempty"`
	Items      []BatchItemResult `json:"results"`
}

type DASubmissionResult struct {
	Index                 int       `json:"index"`
	Success               bool      `json:"success"`
	Commitment            string    `json:"commitment,omitempty"`
	BlobHash              string    `json:"blobHash,omitempty"`
	BatchID               string    `json:"batchId,omitempty"`
	EstimatedFinalization time.Time `json:"estimatedFinalization,omitempty"`
	Error                 string    `json:"error,omitempty"`
}
