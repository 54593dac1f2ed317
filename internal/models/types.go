// Package models defines the core data types shared across the service:
// the process knowledge graph (nodes, parameters, flows, risks), production
// data (batches, measurements), the action catalog and the per-role daily
// instructions with their lifecycle.
package models

import "time"

// NodeType classifies a process node within the plant hierarchy.
type NodeType string

const (
	NodeBlock    NodeType = "Block"    // workshop-level grouping
	NodeUnit     NodeType = "Unit"     // a concrete piece of equipment
	NodeResource NodeType = "Resource" // shared resource attached to a block
)

// ParamRole describes how a parameter participates in the process.
type ParamRole string

const (
	RoleInput   ParamRole = "Input"
	RoleControl ParamRole = "Control"
	RoleOutput  ParamRole = "Output"
)

// ParamDataType is the shape of the values a parameter produces. Only
// Scalar values flow through the statistical tools today.
type ParamDataType string

const (
	DataScalar   ParamDataType = "Scalar"
	DataSpectrum ParamDataType = "Spectrum"
	DataImage    ParamDataType = "Image"
	DataGrade    ParamDataType = "Grade"
)

// RiskCategory is the fishbone bucket of a risk node.
type RiskCategory string

const (
	RiskTop         RiskCategory = "Top"
	RiskEquipment   RiskCategory = "Equipment"
	RiskMaterial    RiskCategory = "Material"
	RiskHuman       RiskCategory = "Human"
	RiskEnvironment RiskCategory = "Environment"
	RiskMethod      RiskCategory = "Method"
)

// BatchStatus tracks a production run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "Running"
	BatchCompleted BatchStatus = "Completed"
)

// MeasurementSource identifies where a data point came from.
type MeasurementSource string

const (
	SourceHistory    MeasurementSource = "HISTORY"
	SourceSimulation MeasurementSource = "SIMULATION"
	SourceSensor     MeasurementSource = "SENSOR"
	SourceInput      MeasurementSource = "INPUT"
)

// Role is the audience of a generated instruction.
type Role string

const (
	RoleOperator   Role = "Operator"
	RoleQA         Role = "QA"
	RoleTeamLeader Role = "TeamLeader"
	RoleManager    Role = "Manager"
)

// Roles lists all instruction audiences in display order.
var Roles = []Role{RoleOperator, RoleQA, RoleTeamLeader, RoleManager}

// Priority orders actions and instructions.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Rank maps a priority to a sortable score. Higher means more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// InstructionStatus is the lifecycle state of an instruction.
// Transitions only move forward: Pending -> Read -> Done.
type InstructionStatus string

const (
	StatusPending InstructionStatus = "Pending"
	StatusRead    InstructionStatus = "Read"
	StatusDone    InstructionStatus = "Done"
)

// Severity grades a single analysed parameter group or a whole report.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityWarning  Severity = "WARNING"
	SeverityNormal   Severity = "NORMAL"

	// SeverityErrored marks a group whose analysis itself failed.
	SeverityErrored Severity = "ERRORED"
)

// Rank maps a severity to a sortable score. Higher means worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}

// Node is a unit in the process graph. Codes are unique plant-wide and
// immutable after bootstrap.
type Node struct {
	Code       string   `db:"code" json:"code"`
	Name       string   `db:"name" json:"name"`
	Type       NodeType `db:"node_type" json:"type"`
	ParentCode *string  `db:"parent_code" json:"parent_code,omitempty"`
}

// ParameterDef is a measurable attribute of a node, with optional
// specification limits. (NodeCode, Code) is unique.
type ParameterDef struct {
	NodeCode string        `db:"node_code" json:"node_code"`
	Code     string        `db:"code" json:"code"`
	Name     string        `db:"name" json:"name"`
	Unit     string        `db:"unit" json:"unit"`
	Role     ParamRole     `db:"role" json:"role"`
	USL      *float64      `db:"usl" json:"usl,omitempty"`
	LSL      *float64      `db:"lsl" json:"lsl,omitempty"`
	Target   *float64      `db:"target" json:"target,omitempty"`
	DataType ParamDataType `db:"data_type" json:"data_type"`
}

// Edge is a directed material flow between two process nodes.
type Edge struct {
	SourceCode string  `db:"source_code" json:"source"`
	TargetCode string  `db:"target_code" json:"target"`
	Name       string  `db:"name" json:"name"`
	LossRate   float64 `db:"loss_rate" json:"loss_rate"`
}

// Risk is a fault-tree node with an optional prior probability.
type Risk struct {
	Code            string       `db:"code" json:"code"`
	Name            string       `db:"name" json:"name"`
	Category        RiskCategory `db:"category" json:"category"`
	BaseProbability *float64     `db:"base_probability" json:"base_probability,omitempty"`
}

// RiskEdge is a causal edge between risks: child cause to parent effect.
// The set of risk edges must form a DAG.
type RiskEdge struct {
	SourceCode string  `db:"source_code" json:"source"`
	TargetCode string  `db:"target_code" json:"target"`
	Weight     float64 `db:"weight" json:"weight"`
}

// Batch is a production run. Batches are auto-created on first measurement.
// OperatorID attributes the run to a shop-floor operator; the person
// analysis dimension joins through it.
type Batch struct {
	ID          string      `db:"id" json:"id"`
	ProductName string      `db:"product_name" json:"product_name"`
	OperatorID  string      `db:"operator_id" json:"operator_id,omitempty"`
	StartTime   time.Time   `db:"start_time" json:"start_time"`
	EndTime     *time.Time  `db:"end_time" json:"end_time,omitempty"`
	Status      BatchStatus `db:"status" json:"status"`
}

// Measurement is a single data point for (batch, node, param).
type Measurement struct {
	ID        int64             `db:"id" json:"id"`
	BatchID   string            `db:"batch_id" json:"batch_id"`
	NodeCode  string            `db:"node_code" json:"node_code"`
	ParamCode string            `db:"param_code" json:"param_code"`
	Value     float64           `db:"value" json:"value"`
	Timestamp time.Time         `db:"timestamp" json:"timestamp"`
	Source    MeasurementSource `db:"source" json:"source"`
}

// ActionDef is a remediation template from the action catalog. The
// instruction template may contain {placeholder} tokens that are rendered
// at instruction-generation time.
type ActionDef struct {
	Code                string   `db:"code" json:"code"`
	Name                string   `db:"name" json:"name"`
	RiskCode            *string  `db:"risk_code" json:"risk_code,omitempty"`
	TargetRole          Role     `db:"target_role" json:"target_role"`
	InstructionTemplate string   `db:"instruction_template" json:"instruction_template"`
	Priority            Priority `db:"priority" json:"priority"`
	Category            string   `db:"category" json:"category,omitempty"`
}

// Instruction kinds.
const (
	InstructionTactical  = "tactical"
	InstructionStrategic = "strategic"
)

// Instruction is a rendered, role-targeted directive.
//
// Evidence is a loose string-keyed bag (Cpk, current value, violation
// counts) so the persisted format stays forward-compatible; readers must
// tolerate unknown keys.
type Instruction struct {
	ID              int64             `db:"id" json:"id"`
	TargetDate      string            `db:"target_date" json:"target_date"`
	Role            Role              `db:"role" json:"role"`
	ActionCode      string            `db:"action_code" json:"action_code"`
	BatchID         string            `db:"batch_id" json:"batch_id,omitempty"`
	NodeCode        string            `db:"node_code" json:"node_code,omitempty"`
	ParamCode       string            `db:"param_code" json:"param_code,omitempty"`
	Content         string            `db:"content" json:"content"`
	Status          InstructionStatus `db:"status" json:"status"`
	Priority        Priority          `db:"priority" json:"priority"`
	Evidence        map[string]any    `db:"-" json:"evidence,omitempty"`
	Feedback        string            `db:"feedback" json:"feedback,omitempty"`
	InstructionType string            `db:"instruction_type" json:"instruction_type"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	ReadAt          *time.Time        `db:"read_at" json:"read_at,omitempty"`
	DoneAt          *time.Time        `db:"done_at" json:"done_at,omitempty"`
}

// Issue is a single finding about one (node, param) group: the unit the
// workflow grades and the decision engine matches actions against.
type Issue struct {
	Severity      Severity `json:"severity"`
	NodeCode      string   `json:"node_code"`
	NodeName      string   `json:"node_name,omitempty"`
	ParamCode     string   `json:"param_code"`
	ParamName     string   `json:"param_name,omitempty"`
	BatchID       string   `json:"batch_id,omitempty"`
	Description   string   `json:"description"`
	ProcessStatus string   `json:"process_status,omitempty"`
	Cpk           *float64 `json:"cpk,omitempty"`
	Mean          *float64 `json:"mean,omitempty"`
	CurrentValue  *float64 `json:"current_value,omitempty"`
	TargetValue   *float64 `json:"target_value,omitempty"`
	Violations    int      `json:"violations"`
	Errors        []string `json:"errors,omitempty"`

	// Extra carries issue-specific numeric facts (suggested valve
	// positions and the like) consumed by template rendering.
	Extra map[string]any `json:"extra,omitempty"`
}

// AnalysisReport is the orchestrator's structured output for one
// dimension invocation.
type AnalysisReport struct {
	Dimension      string         `json:"dimension"`
	Key            string         `json:"key"`
	AnalysisID     string         `json:"analysis_id"`
	Status         Severity       `json:"status"`
	CriticalIssues []Issue        `json:"critical_issues"`
	Warnings       []Issue        `json:"warnings"`
	Insights       []string       `json:"insights"`
	QuickActions   []string       `json:"quick_actions,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
