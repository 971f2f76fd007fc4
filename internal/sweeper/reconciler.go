package sweeper

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"positioner-tracker/internal/domain"
	"positioner-tracker/internal/fhir"
	"positioner-tracker/internal/workflow"
)

// Reconciler 重复记录清理器
// 并发首扫可能为同一条码创建多条记录（存储层没有唯一约束），
// 清理器按条码分组，保留信息最完整的一条，删除其余。
// 启动时执行一次，可按配置周期性重跑；幂等：单条记录的分组不做任何变更。
type Reconciler struct {
	ops    *workflow.Operations
	store  fhir.Store
	logger *zap.Logger
}

// NewReconciler 创建重复记录清理器
func NewReconciler(ops *workflow.Operations, store fhir.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ops:    ops,
		store:  store,
		logger: logger,
	}
}

// Run 周期性执行（interval <= 0 时只执行一次）
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if err := r.ReconcileOnce(ctx); err != nil {
		r.logger.Error("Failed to reconcile duplicate positioners", zap.Error(err))
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Duplicate reconciler stopped")
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("Failed to reconcile duplicate positioners", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce 执行一次全量清理
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	resources, err := r.ops.ListResources(ctx)
	if err != nil {
		return err
	}

	// 按条码分组（保持输入顺序，保证保留结果确定）
	byBarcode := make(map[string][]fhir.Resource)
	var barcodes []string
	for _, res := range resources {
		p := domain.DecodePositioner(res)
		if p.Barcode == "" {
			continue
		}
		if _, ok := byBarcode[p.Barcode]; !ok {
			barcodes = append(barcodes, p.Barcode)
		}
		byBarcode[p.Barcode] = append(byBarcode[p.Barcode], res)
	}

	deletedCount := 0
	errorCount := 0

	for _, barcode := range barcodes {
		group := byBarcode[barcode]
		if len(group) <= 1 {
			continue
		}

		r.logger.Info("Found duplicate positioners",
			zap.String("barcode", barcode),
			zap.Int("count", len(group)),
		)

		keep := pickKeeper(group)
		r.logger.Info("Keeping positioner",
			zap.String("barcode", barcode),
			zap.String("device_id", keep.ID),
		)

		for _, res := range group {
			if res.ID == keep.ID {
				continue
			}
			if err := r.store.DeleteResource(ctx, res.ResourceType, res.ID); err != nil {
				r.logger.Error("Failed to delete duplicate positioner",
					zap.String("barcode", barcode),
					zap.String("device_id", res.ID),
					zap.Error(err),
				)
				errorCount++
				continue
			}
			r.logger.Info("Deleted duplicate positioner",
				zap.String("barcode", barcode),
				zap.String("device_id", res.ID),
			)
			deletedCount++
		}
	}

	if deletedCount > 0 || errorCount > 0 {
		r.logger.Info("Completed duplicate reconciliation",
			zap.Int("deleted_count", deletedCount),
			zap.Int("error_count", errorCount),
		)
	}

	return nil
}

// pickKeeper 选择保留的记录
// 优先级：有当前分配 > 有开封时间 > 输入顺序靠前（稳定排序保证确定性）
func pickKeeper(group []fhir.Resource) fhir.Resource {
	sorted := make([]fhir.Resource, len(group))
	copy(sorted, group)

	sort.SliceStable(sorted, func(i, j int) bool {
		pi := domain.DecodePositioner(sorted[i])
		pj := domain.DecodePositioner(sorted[j])

		if pi.Assigned() != pj.Assigned() {
			return pi.Assigned()
		}
		if (pi.OpenedAt != nil) != (pj.OpenedAt != nil) {
			return pi.OpenedAt != nil
		}
		return false
	})

	return sorted[0]
}
