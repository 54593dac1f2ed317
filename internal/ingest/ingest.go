// Package ingest is the funnel for production data: single-point
// measurements flow in, batches are created on first sight.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
)

var validSources = map[models.MeasurementSource]bool{
	models.SourceHistory:    true,
	models.SourceSimulation: true,
	models.SourceSensor:     true,
	models.SourceInput:      true,
}

// Point is one incoming data point.
type Point struct {
	BatchID    string                   `json:"batch_id"`
	NodeCode   string                   `json:"node_code"`
	ParamCode  string                   `json:"param_code"`
	Value      float64                  `json:"value"`
	Source     models.MeasurementSource `json:"source"`
	Timestamp  *time.Time               `json:"timestamp,omitempty"`
	OperatorID string                   `json:"operator_id,omitempty"`
}

// Ingestor writes measurements, creating the owning batch when it does
// not exist yet.
type Ingestor struct {
	store  store.Store
	logger *zap.Logger
}

func NewIngestor(s store.Store, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: s, logger: logger}
}

// IngestSinglePoint validates and persists one measurement. An unknown
// batch id auto-creates a Running batch; unknown node or parameter codes
// are rejected.
func (ig *Ingestor) IngestSinglePoint(ctx context.Context, p Point) (*models.Measurement, error) {
	if strings.TrimSpace(p.BatchID) == "" || strings.TrimSpace(p.NodeCode) == "" || strings.TrimSpace(p.ParamCode) == "" {
		return nil, fmt.Errorf("batch_id, node_code and param_code are required: %w", errkind.ErrBadRequest)
	}
	if !validSources[p.Source] {
		return nil, fmt.Errorf("unknown source %q: %w", p.Source, errkind.ErrBadRequest)
	}

	// The referenced node and parameter must exist before data lands.
	if _, err := ig.store.GetNode(ctx, p.NodeCode); err != nil {
		return nil, err
	}
	if _, err := ig.store.GetParameter(ctx, p.NodeCode, p.ParamCode); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	if p.Timestamp != nil {
		ts = p.Timestamp.UTC()
	}

	if _, err := ig.store.GetBatch(ctx, p.BatchID); err != nil {
		if !errors.Is(err, errkind.ErrUnknownEntity) {
			return nil, err
		}
		batch := &models.Batch{
			ID:         p.BatchID,
			OperatorID: p.OperatorID,
			StartTime:  ts,
			Status:     models.BatchRunning,
		}
		if err := ig.store.CreateBatch(ctx, batch); err != nil {
			return nil, err
		}
		metrics.BatchesAutoCreated.Inc()
		ig.logger.Info("auto-created batch",
			zap.String("batch_id", p.BatchID),
			zap.String("operator_id", p.OperatorID),
		)
	}

	m := &models.Measurement{
		BatchID:   p.BatchID,
		NodeCode:  p.NodeCode,
		ParamCode: p.ParamCode,
		Value:     p.Value,
		Timestamp: ts,
		Source:    p.Source,
	}
	id, err := ig.store.InsertMeasurement(ctx, m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	metrics.MeasurementsIngested.WithLabelValues(string(p.Source)).Inc()
	return m, nil
}
