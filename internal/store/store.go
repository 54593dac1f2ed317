// Package store owns persistence for the process knowledge graph, the
// production data stream and the generated instructions.
package store

import (
	"context"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/models"
)

// MeasurementFilter narrows a measurement query. Zero fields are ignored.
// Limit bounds the result to the most recent rows; rows come back ordered
// by timestamp ascending.
type MeasurementFilter struct {
	BatchIDs   []string
	OperatorID string // joins through data_batches
	NodeCodes  []string
	ParamCode  string
	Start      *time.Time // inclusive
	End        *time.Time // exclusive
	Limit      int
}

// InstructionFilter narrows an instruction query.
type InstructionFilter struct {
	TargetDate string
	Role       models.Role
	Status     models.InstructionStatus
}

// Store is the persistence surface used by every other component.
// Unknown-key lookups return errkind.ErrUnknownEntity; I/O failures wrap
// errkind.ErrStoreUnavailable.
type Store interface {
	// Process graph
	UpsertNode(ctx context.Context, n *models.Node) error
	GetNode(ctx context.Context, code string) (*models.Node, error)
	ListNodes(ctx context.Context) ([]models.Node, error)
	ListChildren(ctx context.Context, parentCode string) ([]models.Node, error)

	UpsertParameter(ctx context.Context, p *models.ParameterDef) error
	GetParameter(ctx context.Context, nodeCode, code string) (*models.ParameterDef, error)
	ListParameters(ctx context.Context, nodeCode string) ([]models.ParameterDef, error)

	UpsertFlow(ctx context.Context, e *models.Edge) error
	ListFlows(ctx context.Context) ([]models.Edge, error)

	// Risk tree
	UpsertRisk(ctx context.Context, r *models.Risk) error
	GetRisk(ctx context.Context, code string) (*models.Risk, error)
	ListRisks(ctx context.Context) ([]models.Risk, error)
	UpsertRiskEdge(ctx context.Context, e *models.RiskEdge) error
	ListRiskEdges(ctx context.Context) ([]models.RiskEdge, error)

	// Action catalog
	UpsertAction(ctx context.Context, a *models.ActionDef) error
	GetAction(ctx context.Context, code string) (*models.ActionDef, error)
	ListActions(ctx context.Context) ([]models.ActionDef, error)

	// Production data
	CreateBatch(ctx context.Context, b *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]models.Batch, error)

	InsertMeasurement(ctx context.Context, m *models.Measurement) (int64, error)
	ListMeasurements(ctx context.Context, f MeasurementFilter) ([]models.Measurement, error)

	// Instructions. InsertInstruction reports false when the dedup index
	// swallowed the row. SetInstructionRead advances only from Pending
	// and SetInstructionDone only from Read; any other current status is
	// errkind.ErrBadTransition.
	InsertInstruction(ctx context.Context, in *models.Instruction) (bool, error)
	GetInstruction(ctx context.Context, id int64) (*models.Instruction, error)
	ListInstructions(ctx context.Context, f InstructionFilter) ([]models.Instruction, error)
	SetInstructionRead(ctx context.Context, id int64, at time.Time) error
	SetInstructionDone(ctx context.Context, id int64, at time.Time, feedback string) error

	Ping(ctx context.Context) error
	Close() error
}
