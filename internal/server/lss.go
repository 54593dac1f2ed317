package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pharmaflow/pharmaflow-backend/internal/errkind"
	"github.com/pharmaflow/pharmaflow-backend/internal/models"
	"github.com/pharmaflow/pharmaflow-backend/internal/store"
	"github.com/pharmaflow/pharmaflow-backend/internal/tools"
)

// DB-backed tool endpoints: pull measurements through the store, fall
// back to the parameter definition for spec limits, and attach metadata
// about the sourced series.

type spcAnalyzeRequest struct {
	ParamCode string   `json:"param_code"`
	NodeCode  string   `json:"node_code"`
	BatchID   string   `json:"batch_id"`
	Limit     int      `json:"limit"`
	USL       *float64 `json:"usl"`
	LSL       *float64 `json:"lsl"`
	Target    *float64 `json:"target"`
}

type histogramAnalyzeRequest struct {
	ParamCode string   `json:"param_code"`
	NodeCode  string   `json:"node_code"`
	BatchID   string   `json:"batch_id"`
	Limit     int      `json:"limit"`
	Bins      int      `json:"bins"`
	USL       *float64 `json:"usl"`
	LSL       *float64 `json:"lsl"`
}

type paretoAnalyzeRequest struct {
	Categories []tools.CategoryCount `json:"categories"`
	Threshold  float64               `json:"threshold"`
}

type boxplotAnalyzeRequest struct {
	ParamCodes     []string `json:"param_codes"`
	NodeCodes      []string `json:"node_codes"`
	BatchID        string   `json:"batch_id"`
	LimitPerSeries int      `json:"limit_per_series"`
}

func (s *Server) loadSeries(r *http.Request, paramCode, nodeCode, batchID string, limit int) ([]models.Measurement, error) {
	if paramCode == "" {
		return nil, fmt.Errorf("param_code is required: %w", errkind.ErrBadRequest)
	}
	f := store.MeasurementFilter{ParamCode: paramCode, Limit: limit}
	if nodeCode != "" {
		f.NodeCodes = []string{nodeCode}
	}
	if batchID != "" {
		f.BatchIDs = []string{batchID}
	}
	return s.store.ListMeasurements(r.Context(), f)
}

// specLimits resolves USL/LSL/target: explicit request values win over
// the stored parameter definition.
func (s *Server) specLimits(r *http.Request, nodeCode, paramCode string, usl, lsl, target *float64) (*float64, *float64, *float64) {
	if (usl == nil || lsl == nil || target == nil) && nodeCode != "" {
		def, err := s.store.GetParameter(r.Context(), nodeCode, paramCode)
		if err == nil {
			if usl == nil {
				usl = def.USL
			}
			if lsl == nil {
				lsl = def.LSL
			}
			if target == nil {
				target = def.Target
			}
		} else if !errors.Is(err, errkind.ErrUnknownEntity) {
			s.logger.Warn("parameter lookup failed during analyze", zap.Error(err))
		}
	}
	return usl, lsl, target
}

func seriesMetadata(req any, ms []models.Measurement) map[string]any {
	md := map[string]any{"data_points": len(ms)}
	if len(ms) > 0 {
		md["time_range"] = map[string]string{
			"start": ms[0].Timestamp.Format(time.RFC3339),
			"end":   ms[len(ms)-1].Timestamp.Format(time.RFC3339),
		}
	}
	switch q := req.(type) {
	case *spcAnalyzeRequest:
		md["param_code"] = q.ParamCode
		md["node_code"] = q.NodeCode
		md["batch_id"] = q.BatchID
	case *histogramAnalyzeRequest:
		md["param_code"] = q.ParamCode
		md["node_code"] = q.NodeCode
	}
	return md
}

func (s *Server) handleSPCAnalyze(w http.ResponseWriter, r *http.Request) {
	var req spcAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	ms, err := s.loadSeries(r, req.ParamCode, req.NodeCode, req.BatchID, req.Limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if len(ms) == 0 {
		respondJSON(w, http.StatusOK, failure(fmt.Sprintf("未找到参数 %s 的测量数据", req.ParamCode)))
		return
	}

	usl, lsl, target := s.specLimits(r, req.NodeCode, req.ParamCode, req.USL, req.LSL, req.Target)
	res := tools.AnalyzeSPC(values(ms), tools.SPCConfig{USL: usl, LSL: lsl, Target: target})
	res.Metadata = seriesMetadata(&req, ms)
	s.respondToolResult(w, "spc", res)
}

func (s *Server) handleParetoAnalyze(w http.ResponseWriter, r *http.Request) {
	var req paretoAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	res := tools.AnalyzePareto(req.Categories, req.Threshold)
	s.respondToolResult(w, "pareto", res)
}

func (s *Server) handleHistogramAnalyze(w http.ResponseWriter, r *http.Request) {
	var req histogramAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	ms, err := s.loadSeries(r, req.ParamCode, req.NodeCode, req.BatchID, req.Limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if len(ms) == 0 {
		respondJSON(w, http.StatusOK, failure(fmt.Sprintf("未找到参数 %s 的测量数据", req.ParamCode)))
		return
	}

	usl, lsl, _ := s.specLimits(r, req.NodeCode, req.ParamCode, req.USL, req.LSL, nil)
	res := tools.AnalyzeHistogram(values(ms), req.Bins, usl, lsl)
	res.Metadata = seriesMetadata(&req, ms)
	s.respondToolResult(w, "histogram", res)
}

func (s *Server) handleBoxplotAnalyze(w http.ResponseWriter, r *http.Request) {
	var req boxplotAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if len(req.ParamCodes) == 0 {
		s.respondError(w, fmt.Errorf("param_codes is required: %w", errkind.ErrBadRequest))
		return
	}
	if req.LimitPerSeries <= 0 {
		req.LimitPerSeries = 50
	}

	var series []tools.NamedSeries
	for _, pc := range req.ParamCodes {
		f := store.MeasurementFilter{ParamCode: pc, NodeCodes: req.NodeCodes, Limit: req.LimitPerSeries}
		if req.BatchID != "" {
			f.BatchIDs = []string{req.BatchID}
		}
		ms, err := s.store.ListMeasurements(r.Context(), f)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if len(ms) > 0 {
			series = append(series, tools.NamedSeries{Name: pc, Values: values(ms)})
		}
	}
	if len(series) == 0 {
		respondJSON(w, http.StatusOK, failure("未找到任何测量数据"))
		return
	}

	res := tools.AnalyzeBoxplot(series, 0)
	res.Metadata = map[string]any{
		"series_count": len(series),
		"param_codes":  req.ParamCodes,
	}
	s.respondToolResult(w, "boxplot", res)
}

func values(ms []models.Measurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.Value
	}
	return out
}
