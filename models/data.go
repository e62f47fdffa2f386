package models

/*
	Payloads for the stream-scoped key/value overlay. A "stream" is an
	integer namespace partition; keys are only meaningful within their
	stream. All mutations travel as one or more KVOperations folded into
	a single network transaction.
*/

const (
	KVOpSet    = "set"
	KVOpDelete = "delete"
)

type KVPayload struct {
	StreamID uint64 `json:"streamId"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type KVOperation struct {
	StreamID uint64 `json:"streamId"`
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Op       string `json:"operation"`
}

// ValidOp reports whether the operation verb is one we accept.
func (o KVOperation) ValidOp() bool {
	return o.Op == KVOpSet || o.Op == KVOpDelete
}
