package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"positioner-tracker/internal/cache"
	"positioner-tracker/internal/domain"
	"positioner-tracker/internal/fhir"
	"positioner-tracker/internal/workflow"
)

// PositionerHandler 定位垫管理 Handler
type PositionerHandler struct {
	ops        *workflow.Operations
	statsCache *cache.StatsCache // 可为 nil（未启用 Redis 时直接实时计算）
	logger     *zap.Logger
}

// NewPositionerHandler 创建定位垫管理 Handler
func NewPositionerHandler(ops *workflow.Operations, statsCache *cache.StatsCache, logger *zap.Logger) *PositionerHandler {
	return &PositionerHandler{
		ops:        ops,
		statsCache: statsCache,
		logger:     logger,
	}
}

// ListPositioners 列出全部定位垫视图（?patient=Patient/xxx 过滤）
func (h *PositionerHandler) ListPositioners(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var snapshots []domain.Snapshot
	var err error
	if patient := r.URL.Query().Get("patient"); patient != "" {
		snapshots, err = h.ops.PositionersForPatient(ctx, patient)
	} else {
		snapshots, err = h.ops.ListPositioners(ctx)
	}
	if err != nil {
		h.logger.Error("ListPositioners failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	items := make([]map[string]any, len(snapshots))
	for i := range snapshots {
		items[i] = snapshots[i].ToJSON()
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": len(items),
	}))
}

// GetByBarcode 按条码查询单个定位垫
func (h *PositionerHandler) GetByBarcode(w http.ResponseWriter, r *http.Request, barcode string) {
	ctx := r.Context()

	res, err := h.ops.FindByBarcode(ctx, barcode)
	if err != nil {
		h.logger.Error("GetByBarcode failed",
			zap.String("barcode", barcode),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	if res == nil {
		// 查不到不是错误，但对 UI 是 404
		writeJSON(w, http.StatusNotFound, Fail("positioner not found"))
		return
	}

	snap := h.ops.Evaluate(*res)
	writeJSON(w, http.StatusOK, Ok(snap.ToJSON()))
}

// ScanRequest 扫码激活请求
type ScanRequest struct {
	Barcode               string `json:"barcode"`
	PatientRef            string `json:"patient_ref"`
	PatientDisplay        string `json:"patient_display"`
	RotationIntervalHours int    `json:"rotation_interval_hours"`
}

// ScanAndActivate 扫码激活
// 过期拦截不是传输错误：success=false + expired_blocked=true，
// UI 据此展示 "已过期，请废弃并更换"
func (h *PositionerHandler) ScanAndActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScanRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.Barcode == "" || req.PatientRef == "" {
		writeJSON(w, http.StatusBadRequest, Fail("barcode and patient_ref are required"))
		return
	}
	if req.RotationIntervalHours <= 0 {
		req.RotationIntervalHours = domain.DefaultRotationIntervalHours
	}

	patient := fhir.Reference{Reference: req.PatientRef, Display: req.PatientDisplay}
	outcome := h.ops.ScanAndActivate(ctx, req.Barcode, patient, req.RotationIntervalHours)

	body := map[string]any{
		"success":         outcome.Success,
		"expired_blocked": outcome.ExpiredBlocked,
	}
	if outcome.Err != "" {
		body["error"] = outcome.Err
	}
	if outcome.Positioner != nil {
		body["positioner"] = outcome.Positioner.ToJSON()
	}

	if !outcome.Success && !outcome.ExpiredBlocked {
		// 传输/存储失败
		h.logger.Error("ScanAndActivate failed",
			zap.String("barcode", req.Barcode),
			zap.String("error", outcome.Err),
		)
		writeJSON(w, http.StatusOK, Fail(outcome.Err))
		return
	}

	writeJSON(w, http.StatusOK, Ok(body))
}

// PostponeRequest 推迟翻转请求
type PostponeRequest struct {
	Minutes int `json:"minutes"`
}

// HandleAction 按 id 执行操作：deactivate / discard / rotation/complete / rotation/postpone
func (h *PositionerHandler) HandleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ctx := r.Context()

	res, err := h.ops.ReadResource(ctx, id)
	if err != nil {
		if errors.Is(err, fhir.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("positioner not found"))
			return
		}
		h.logger.Error("Failed to read positioner",
			zap.String("device_id", id),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	var updated fhir.Resource
	switch action {
	case "deactivate":
		updated, err = h.ops.Deactivate(ctx, res)
	case "discard":
		updated, err = h.ops.Discard(ctx, res)
	case "rotation/complete":
		updated, err = h.ops.CompleteRotation(ctx, res)
	case "rotation/postpone":
		var req PostponeRequest
		if bodyErr := readBodyJSON(r, 1<<20, &req); bodyErr != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		updated, err = h.ops.PostponeRotation(ctx, res, req.Minutes)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err != nil {
		if errors.Is(err, workflow.ErrTerminalRecord) || errors.Is(err, workflow.ErrNotAssigned) {
			// 前置条件不满足：拒绝且未做任何变更
			writeJSON(w, http.StatusConflict, Fail(err.Error()))
			return
		}
		h.logger.Error("Positioner action failed",
			zap.String("device_id", id),
			zap.String("action", action),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	snap := h.ops.Evaluate(updated)
	writeJSON(w, http.StatusOK, Ok(snap.ToJSON()))
}

// GetStats 统计概览（优先读缓存快照）
func (h *PositionerHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.statsCache != nil {
		if stats, err := h.statsCache.Get(ctx); err == nil {
			writeJSON(w, http.StatusOK, Ok(stats))
			return
		}
	}

	stats, err := h.ops.Stats(ctx)
	if err != nil {
		h.logger.Error("GetStats failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	// 回填缓存（尽力而为）
	if h.statsCache != nil {
		if err := h.statsCache.Set(ctx, stats); err != nil {
			h.logger.Warn("Failed to refill stats cache", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, Ok(stats))
}
