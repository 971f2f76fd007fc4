package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"positioner-tracker/internal/domain"
	"positioner-tracker/internal/events"
	"positioner-tracker/internal/fhir"
)

// 工作流操作：读取 -> 解码 -> 校验 -> 计算新视图 -> 编码 -> 写回
// 每个操作整体读整体写（last-writer-wins），存储调用是唯一的阻塞点

var (
	// ErrTerminalRecord 对已废弃（终态）记录执行分配/翻转操作
	ErrTerminalRecord = errors.New("positioner is discarded")

	// ErrNotAssigned 对未分配的定位垫执行翻转操作
	ErrNotAssigned = errors.New("positioner is not assigned")
)

// ScanOutcome 扫码激活的结构化结果
// 过期拦截不是传输错误：调用方需要据此展示 "已过期，请废弃并更换" 而非一般性失败
type ScanOutcome struct {
	Success        bool
	ExpiredBlocked bool
	Positioner     *domain.Snapshot
	Err            string
}

// Operations 定位垫工作流操作集
type Operations struct {
	store  fhir.Store
	events events.Publisher
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewOperations 创建工作流操作集
func NewOperations(store fhir.Store, publisher events.Publisher, logger *zap.Logger) *Operations {
	return &Operations{
		store:  store,
		events: publisher,
		logger: logger,
		nowFn:  time.Now,
	}
}

// WithClock 注入时钟（测试用）
func (o *Operations) WithClock(nowFn func() time.Time) *Operations {
	o.nowFn = nowFn
	return o
}

func (o *Operations) now() time.Time {
	return o.nowFn()
}

// publish 发布生命周期事件（尽力而为，失败只记日志）
func (o *Operations) publish(ctx context.Context, event events.LifecycleEvent) {
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn("Failed to publish lifecycle event",
			zap.String("type", string(event.Type)),
			zap.String("barcode", event.Barcode),
			zap.Error(err),
		)
	}
}

// ListResources 列出全部定位垫资源（原始记录，扫描器/清理器共用）
// 全量拉取后在客户端按类型标签过滤，与存储的查询语法解耦
func (o *Operations) ListResources(ctx context.Context) ([]fhir.Resource, error) {
	resources, err := o.store.SearchResources(ctx, domain.DeviceResourceType, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search devices: %w", err)
	}

	positioners := resources[:0:0]
	for _, res := range resources {
		if res.HasTypeCode(domain.PositionerTypeCode) {
			positioners = append(positioners, res)
		}
	}
	return positioners, nil
}

// ReadResource 按 ID 读取定位垫资源
func (o *Operations) ReadResource(ctx context.Context, id string) (fhir.Resource, error) {
	return o.store.ReadResource(ctx, domain.DeviceResourceType, id)
}

// Evaluate 基于当前时刻计算资源的状态视图
func (o *Operations) Evaluate(res fhir.Resource) domain.Snapshot {
	return domain.Evaluate(domain.DecodePositioner(res), o.now())
}

// FindByBarcode 按条码查找定位垫资源
// 未找到返回 (nil, nil)，不是错误
func (o *Operations) FindByBarcode(ctx context.Context, barcode string) (*fhir.Resource, error) {
	resources, err := o.ListResources(ctx)
	if err != nil {
		return nil, err
	}

	for i := range resources {
		for _, id := range resources[i].Identifier {
			if id.Value == barcode {
				return &resources[i], nil
			}
		}
	}
	return nil, nil
}

// Create 创建新定位垫记录（首次开封）
// openedAt = now，expiresAt = openedAt + 90 天，无分配字段
func (o *Operations) Create(ctx context.Context, barcode string) (fhir.Resource, error) {
	now := o.now()
	expires := domain.ExpirationDate(now)

	p := domain.Positioner{
		Barcode:      barcode,
		RecordStatus: fhir.StatusActive,
		OpenedAt:     &now,
		ExpiresAt:    &expires,
	}
	res := domain.EncodePositioner(p, fhir.Resource{ResourceType: domain.DeviceResourceType})

	created, err := o.store.CreateResource(ctx, res)
	if err != nil {
		return fhir.Resource{}, fmt.Errorf("failed to create positioner: %w", err)
	}

	o.logger.Info("Created positioner",
		zap.String("device_id", created.ID),
		zap.String("barcode", barcode),
		zap.Time("expires_at", expires),
	)
	o.publish(ctx, events.LifecycleEvent{
		Type:     events.TypeActivated,
		DeviceID: created.ID,
		Barcode:  barcode,
		At:       now,
	})

	return created, nil
}

// ScanAndActivate 扫码激活主流程
//  1. 按条码查找，不存在则创建（首次开封，启动 90 天倒计时）
//  2. 已过期或已废弃则拦截，不做任何变更
//  3. 分配给患者（自动结束之前的分配）
func (o *Operations) ScanAndActivate(ctx context.Context, barcode string, patient fhir.Reference, intervalHours int) ScanOutcome {
	res, err := o.FindByBarcode(ctx, barcode)
	if err != nil {
		return ScanOutcome{Err: err.Error()}
	}

	if res == nil {
		o.logger.Info("No positioner found for barcode, creating",
			zap.String("barcode", barcode),
		)
		created, err := o.Create(ctx, barcode)
		if err != nil {
			return ScanOutcome{Err: err.Error()}
		}
		res = &created
	}

	now := o.now()
	p := domain.DecodePositioner(*res)
	if p.Terminal() || domain.IsExpired(p, now) {
		o.logger.Info("Blocking activation of expired positioner",
			zap.String("barcode", barcode),
			zap.String("device_id", res.ID),
			zap.String("record_status", p.RecordStatus),
		)
		snap := domain.Evaluate(p, now)
		return ScanOutcome{
			ExpiredBlocked: true,
			Positioner:     &snap,
			Err:            "positioner expired - discard and replace",
		}
	}

	updated, err := o.Assign(ctx, *res, patient, intervalHours)
	if err != nil {
		return ScanOutcome{Err: err.Error()}
	}

	snap := domain.Evaluate(domain.DecodePositioner(updated), now)
	return ScanOutcome{Success: true, Positioner: &snap}
}

// Assign 分配给患者
// 四个分配字段作为一个整体覆盖写，之前的分配被隐式结束；
// lastRotatedAt 清除（新分配不继承上一任的翻转记录）
func (o *Operations) Assign(ctx context.Context, res fhir.Resource, patient fhir.Reference, intervalHours int) (fhir.Resource, error) {
	p := domain.DecodePositioner(res)
	if p.Terminal() {
		return fhir.Resource{}, ErrTerminalRecord
	}

	if intervalHours <= 0 {
		o.logger.Warn("Invalid rotation interval, using default",
			zap.String("barcode", p.Barcode),
			zap.Int("interval_hours", intervalHours),
			zap.Int("default_hours", domain.DefaultRotationIntervalHours),
		)
		intervalHours = domain.DefaultRotationIntervalHours
	}

	now := o.now()
	nextRotation := now.Add(time.Duration(intervalHours) * time.Hour)

	p.CurrentPatient = &patient
	p.AssignedAt = &now
	p.RotationIntervalHours = &intervalHours
	p.NextRotationAt = &nextRotation
	p.LastRotatedAt = nil

	updated, err := o.store.UpdateResource(ctx, domain.EncodePositioner(p, res))
	if err != nil {
		return fhir.Resource{}, fmt.Errorf("failed to assign positioner: %w", err)
	}

	o.logger.Info("Assigned positioner",
		zap.String("device_id", updated.ID),
		zap.String("barcode", p.Barcode),
		zap.String("patient_ref", patient.Reference),
		zap.Int("rotation_interval_hours", intervalHours),
		zap.Time("next_rotation_at", nextRotation),
	)
	o.publish(ctx, events.LifecycleEvent{
		Type:       events.TypeAssigned,
		DeviceID:   updated.ID,
		Barcode:    p.Barcode,
		PatientRef: patient.Reference,
		At:         now,
	})

	return updated, nil
}

// Deactivate 解除分配（定位垫回到 available）
// 只清除分配字段，openedAt/expiresAt/lastRotatedAt 不动
func (o *Operations) Deactivate(ctx context.Context, res fhir.Resource) (fhir.Resource, error) {
	p := domain.DecodePositioner(res)
	patientRef := ""
	if p.CurrentPatient != nil {
		patientRef = p.CurrentPatient.Reference
	}

	p.CurrentPatient = nil
	p.AssignedAt = nil
	p.RotationIntervalHours = nil
	p.NextRotationAt = nil

	updated, err := o.store.UpdateResource(ctx, domain.EncodePositioner(p, res))
	if err != nil {
		return fhir.Resource{}, fmt.Errorf("failed to deactivate positioner: %w", err)
	}

	o.logger.Info("Deactivated positioner",
		zap.String("device_id", updated.ID),
		zap.String("barcode", p.Barcode),
	)
	o.publish(ctx, events.LifecycleEvent{
		Type:       events.TypeDeactivated,
		DeviceID:   updated.ID,
		Barcode:    p.Barcode,
		PatientRef: patientRef,
		At:         o.now(),
	})

	return updated, nil
}

// Discard 废弃（终态）
// 先清除分配字段，再置 recordStatus=inactive，单次写回
func (o *Operations) Discard(ctx context.Context, res fhir.Resource) (fhir.Resource, error) {
	p := domain.DecodePositioner(res)

	p.CurrentPatient = nil
	p.AssignedAt = nil
	p.RotationIntervalHours = nil
	p.NextRotationAt = nil
	p.RecordStatus = fhir.StatusInactive

	updated, err := o.store.UpdateResource(ctx, domain.EncodePositioner(p, res))
	if err != nil {
		return fhir.Resource{}, fmt.Errorf("failed to discard positioner: %w", err)
	}

	o.logger.Info("Discarded positioner",
		zap.String("device_id", updated.ID),
		zap.String("barcode", p.Barcode),
	)
	o.publish(ctx, events.LifecycleEvent{
		Type:     events.TypeDiscarded,
		DeviceID: updated.ID,
		Barcode:  p.Barcode,
		At:       o.now(),
	})

	return updated, nil
}

// CompleteRotation 完成翻转
// lastRotatedAt = now，nextRotationAt = now + 间隔；
// 间隔缺失视为数据完整性边界情况，使用默认值而不是报错
func (o *Operations) CompleteRotation(ctx context.Context, res fhir.Resource) (fhir.Resource, error) {
	p := domain.DecodePositioner(res)
	if p.Terminal() {
		return fhir.Resource{}, ErrTerminalRecord
	}
	if !p.Assigned() {
		return fhir.Resource{}, ErrNotAssigned
	}

	intervalHours := domain.DefaultRotationIntervalHours
	if p.RotationIntervalHours != nil {
		intervalHours = *p.RotationIntervalHours
	} else {
		o.logger.Warn("Positioner missing rotation interval, using default",
			zap.String("device_id", res.ID),
			zap.String("barcode", p.Barcode),
			zap.Int("default_hours", intervalHours),
		)
	}

	now := o.now()
	nextRotation := now.Add(time.Duration(intervalHours) * time.Hour)
	p.LastRotatedAt = &now
	p.NextRotationAt = &nextRotation

	updated, err := o.store.UpdateResource(ctx, domain.EncodePositioner(p, res))
	if err != nil {
		return fhir.Resource{}, fmt.Errorf("failed to complete rotation: %w", err)
	}

	o.logger.Info("Completed rotation",
		zap.String("device_id", updated.ID),
		zap.String("barcode", p.Barcode),
		zap.Time("next_rotation_at", nextRotation),
	)
	o.publish(ctx, events.LifecycleEvent{
		Type:     events.TypeRotationCompleted,
		DeviceID: updated.ID,
		Barcode:  p.Barcode,
		At:       now,
	})

	return updated, nil
}

// PostponeRotation 推迟翻转
// 在当前 nextRotationAt 的基础上累加（缺失时从 now 起算）：
// 连续推迟从上次到期时刻叠加，而不是每次重置为 now + minutes
func (o *Operations) PostponeRotation(ctx context.Context, res fhir.Resource, minutes int) (fhir.Resource, error) {
	p := domain.DecodePositioner(res)
	if p.Terminal() {
		return fhir.Resource{}, ErrTerminalRecord
	}

	if minutes <= 0 {
		minutes = domain.DefaultPostponeMinutes
	}

	base := o.now()
	if p.NextRotationAt != nil {
		base = *p.NextRotationAt
	}
	next := base.Add(time.Duration(minutes) * time.Minute)
	p.NextRotationAt = &next

	updated, err := o.store.UpdateResource(ctx, domain.EncodePositioner(p, res))
	if err != nil {
		return fhir.Resource{}, fmt.Errorf("failed to postpone rotation: %w", err)
	}

	o.logger.Info("Postponed rotation",
		zap.String("device_id", updated.ID),
		zap.String("barcode", p.Barcode),
		zap.Int("minutes", minutes),
		zap.Time("next_rotation_at", next),
	)
	o.publish(ctx, events.LifecycleEvent{
		Type:     events.TypeRotationPostponed,
		DeviceID: updated.ID,
		Barcode:  p.Barcode,
		At:       o.now(),
	})

	return updated, nil
}

// ListPositioners 列出全部定位垫视图
func (o *Operations) ListPositioners(ctx context.Context) ([]domain.Snapshot, error) {
	resources, err := o.ListResources(ctx)
	if err != nil {
		return nil, err
	}

	now := o.now()
	snapshots := make([]domain.Snapshot, 0, len(resources))
	for _, res := range resources {
		snapshots = append(snapshots, domain.Evaluate(domain.DecodePositioner(res), now))
	}
	return snapshots, nil
}

// PositionersForPatient 列出某患者当前在用的定位垫
func (o *Operations) PositionersForPatient(ctx context.Context, patientRef string) ([]domain.Snapshot, error) {
	snapshots, err := o.ListPositioners(ctx)
	if err != nil {
		return nil, err
	}

	matched := snapshots[:0:0]
	for _, snap := range snapshots {
		if snap.Status != domain.StatusActive {
			continue
		}
		if snap.CurrentPatient != nil && snap.CurrentPatient.Reference == patientRef {
			matched = append(matched, snap)
		}
	}
	return matched, nil
}

// Stats 全量统计（仪表盘概览）
func (o *Operations) Stats(ctx context.Context) (domain.Stats, error) {
	snapshots, err := o.ListPositioners(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.ComputeStats(snapshots), nil
}
