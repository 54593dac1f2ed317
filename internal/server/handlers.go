package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pharmaflow/pharmaflow-backend/internal/analysis"
	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/graph"
	"github.com/pharmaflow/pharmaflow-backend/internal/ingest"
	"github.com/pharmaflow/pharmaflow-backend/internal/metrics"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

// ─── Graph ───────────────────────────────────────────────────────────────────

func (s *Server) handleGraphStructure(w http.ResponseWriter, r *http.Request) {
	out, err := s.graphs.Structure(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRiskTree(w http.ResponseWriter, r *http.Request) {
	out, err := s.graphs.RiskTree(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleNodeRisks(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	risks, err := s.graphs.NodeRisks(r.Context(), code)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"risks": risks})
}

func (s *Server) handleGraphImport(w http.ResponseWriter, r *http.Request) {
	var snap graph.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		s.respondError(w, err)
		return
	}
	stats, err := s.importer.Import(r.Context(), &snap)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "imported": stats})
}

// ─── Statistical tools ───────────────────────────────────────────────────────

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": s.registry.List()})
}

type toolRunRequest struct {
	Data   any            `json:"data"`
	Config map[string]any `json:"config"`
}

// handleRunTool serves both the generic runner and the per-tool aliases.
// Tool validation failures come back as structured 200 envelopes with
// success=false; only an unknown key is an HTTP error.
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["tool_key"]
	tool, err := s.registry.Get(key)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req toolRunRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	began := time.Now()
	res := tool.Run(req.Data, tools.Config(req.Config))
	metrics.ToolRunDuration.WithLabelValues(key).Observe(time.Since(began).Seconds())
	s.respondToolResult(w, key, res)
}

func (s *Server) respondToolResult(w http.ResponseWriter, key string, res *tools.Result) {
	outcome := "ok"
	if !res.Success {
		outcome = "failed"
	}
	metrics.ToolRunsTotal.WithLabelValues(key, outcome).Inc()
	respondJSON(w, http.StatusOK, res)
}

// ─── Analysis ────────────────────────────────────────────────────────────────

type analyzeRequest struct {
	BatchID    string `json:"batch_id"`
	NodeCode   string `json:"node_code"`
	ParamCode  string `json:"param_code"`
	BlockCode  string `json:"block_code"`
	OperatorID string `json:"operator_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Limit      int    `json:"limit"`
}

func (req *analyzeRequest) window() (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if req.Start != "" {
		t, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			return nil, nil, fmt.Errorf("start %q: %w", req.Start, errkind.ErrBadRequest)
		}
		start = &t
	}
	if req.End != "" {
		t, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			return nil, nil, fmt.Errorf("end %q: %w", req.End, errkind.ErrBadRequest)
		}
		end = &t
	}
	return start, end, nil
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	report, err := s.orchestrator.AnalyzeByBatch(r.Context(), req.BatchID, req.Limit)
	s.respondReport(w, report, err)
}

func (s *Server) handleAnalyzeProcess(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	report, err := s.orchestrator.AnalyzeByProcess(r.Context(), req.NodeCode, req.ParamCode, req.Limit)
	s.respondReport(w, report, err)
}

func (s *Server) handleAnalyzeWorkshop(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	start, end, err := req.window()
	if err != nil {
		s.respondError(w, err)
		return
	}
	report, err := s.orchestrator.AnalyzeByWorkshop(r.Context(), req.BlockCode, start, end, req.Limit)
	s.respondReport(w, report, err)
}

func (s *Server) handleAnalyzePerson(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	start, end, err := req.window()
	if err != nil {
		s.respondError(w, err)
		return
	}
	report, err := s.orchestrator.AnalyzeByPerson(r.Context(), req.OperatorID, start, end, req.Limit)
	s.respondReport(w, report, err)
}

func (s *Server) handleAnalyzeTime(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	start, end, err := req.window()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if start == nil || end == nil {
		s.respondError(w, fmt.Errorf("start and end are required: %w", errkind.ErrBadRequest))
		return
	}
	report, err := s.orchestrator.AnalyzeByTime(r.Context(), *start, *end, req.Limit)
	s.respondReport(w, report, err)
}

func (s *Server) respondReport(w http.ResponseWriter, report *models.AnalysisReport, err error) {
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type dailyRequest struct {
	TargetDate string   `json:"target_date"`
	Dimensions []string `json:"dimensions"`
}

// handleDailySummary merges one report per requested dimension into a
// single overview, formatted for display.
func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	var req dailyRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if len(req.Dimensions) == 0 {
		req.Dimensions = []string{"workshop"}
	}

	var reports []*models.AnalysisReport
	for _, dim := range req.Dimensions {
		switch dim {
		case "workshop":
			blocks, err := s.store.ListNodes(r.Context())
			if err != nil {
				s.respondError(w, err)
				return
			}
			for _, n := range blocks {
				if n.Type != models.NodeBlock {
					continue
				}
				rep, err := s.orchestrator.AnalyzeByWorkshop(r.Context(), n.Code, nil, nil, 0)
				if err != nil {
					s.respondError(w, err)
					return
				}
				reports = append(reports, rep)
			}
		case "batch":
			batches, err := s.store.ListBatches(r.Context(), 20)
			if err != nil {
				s.respondError(w, err)
				return
			}
			for _, b := range batches {
				rep, err := s.orchestrator.AnalyzeByBatch(r.Context(), b.ID, 0)
				if err != nil {
					s.respondError(w, err)
					return
				}
				reports = append(reports, rep)
			}
		default:
			s.respondError(w, fmt.Errorf("dimension %q: %w", dim, errkind.ErrBadRequest))
			return
		}
	}

	merged := analysis.MergeReports(reports)
	respondJSON(w, http.StatusOK, map[string]any{
		"report":     merged,
		"paragraphs": analysis.FormatReport(merged),
		"markdown":   analysis.FormatMarkdown(merged),
	})
}

// ─── Instructions ────────────────────────────────────────────────────────────

func (s *Server) handleListInstructions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role := models.Role(q.Get("role"))
	targetDate := q.Get("target_date")

	var statuses []models.InstructionStatus
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, models.InstructionStatus(part))
			}
		}
	}

	ins, err := s.commander.GetInstructionsByRole(r.Context(), role, targetDate, statuses...)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"instructions": ins})
}

func (s *Server) handleGenerateInstructions(w http.ResponseWriter, r *http.Request) {
	var req dailyRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.TargetDate == "" {
		req.TargetDate = time.Now().UTC().Format("2006-01-02")
	}

	byRole, err := s.commander.GenerateDailyOrders(r.Context(), req.TargetDate, req.Dimensions)
	if err != nil {
		s.respondError(w, err)
		return
	}
	total := 0
	for _, ins := range byRole {
		total += len(ins)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"target_date":  req.TargetDate,
		"generated":    total,
		"instructions": byRole,
	})
}

func (s *Server) instructionID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("instruction id %q: %w", raw, errkind.ErrBadRequest)
	}
	return id, nil
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := s.instructionID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.commander.MarkRead(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": models.StatusRead})
}

type doneRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	id, err := s.instructionID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req doneRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.respondError(w, err)
			return
		}
	}
	if err := s.commander.MarkDone(r.Context(), id, req.Feedback); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": models.StatusDone})
}

// ─── Monitoring ──────────────────────────────────────────────────────────────

func (s *Server) handleNodeMonitor(w http.ResponseWriter, r *http.Request) {
	view, err := s.monitor.NodeMonitor(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleLatestStatus(w http.ResponseWriter, r *http.Request) {
	board, err := s.monitor.LatestStatus(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"units": board})
}

// ─── Ingestion ───────────────────────────────────────────────────────────────

func (s *Server) handleIngestMeasurement(w http.ResponseWriter, r *http.Request) {
	var pt ingest.Point
	if err := decodeBody(r, &pt); err != nil {
		s.respondError(w, err)
		return
	}
	m, err := s.ingestor.IngestSinglePoint(r.Context(), pt)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "id": m.ID})
}
