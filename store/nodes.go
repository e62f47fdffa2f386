package store

import (
	"context"
	"log/slog"

	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/transport"
	"github.com/pkg/errors"
)

// NodeSelector asks the network directory for candidate storage nodes
// ahead of every upload. Selections are not cached: node availability
// shifts between calls and a stale candidate set causes avoidable
// upload failures.
type NodeSelector struct {
	logger         *slog.Logger
	client         transport.Client
	defaultSegment uint64
	defaultReplica uint64
}

func NewNodeSelector(logger *slog.Logger, client transport.Client, segment, replicas uint64) *NodeSelector {
	return &NodeSelector{
		logger:         logger.WithGroup("node_selector"),
		client:         client,
		defaultSegment: segment,
		defaultReplica: replicas,
	}
}

// Select returns candidate nodes for one operation. Zero-valued segment
// or replicas fall back to the configured defaults. An empty candidate
// set after exclusion is an error, never an empty success.
func (s *NodeSelector) Select(ctx context.Context, segment, replicas uint64, excluded []string) ([]models.StorageNode, error) {
	if segment == 0 {
		segment = s.defaultSegment
	}
	if replicas == 0 {
		replicas = s.defaultReplica
	}

	nodes, err := s.client.SelectNodes(ctx, segment, replicas, excluded)
	if err != nil {
		s.logger.Error("node selection failed", "segment", segment, "error", err)
		return nil, errors.Wrap(ErrNodeSelection, err.Error())
	}
	if len(nodes) == 0 {
		s.logger.Warn("node selection returned empty set", "segment", segment, "replicas", replicas, "excluded", len(excluded))
		return nil, errors.Wrap(ErrNodeSelection, "no candidate nodes available")
	}

	s.logger.Debug("nodes selected", "segment", segment, "count", len(nodes))
	return nodes, nil
}
