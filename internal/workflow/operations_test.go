package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"positioner-tracker/internal/domain"
	"positioner-tracker/internal/events"
	"positioner-tracker/internal/fhir"
)

// fakePublisher 仅用于单元测试（记录发布的事件）
type fakePublisher struct {
	mu     sync.Mutex
	events []events.LifecycleEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event events.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) types() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []events.Type
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

// testClock 可推进的固定时钟
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func setupOperations(t *testing.T) (*Operations, *fhir.MemoryStore, *fakePublisher, *testClock) {
	t.Helper()
	store := fhir.NewMemoryStore()
	publisher := &fakePublisher{}
	clock := &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	ops := NewOperations(store, publisher, zap.NewNop()).WithClock(clock.Now)
	return ops, store, publisher, clock
}

var (
	patientA = fhir.Reference{Reference: "Patient/patient-a", Display: "Patient A"}
	patientB = fhir.Reference{Reference: "Patient/patient-b", Display: "Patient B"}
)

func TestScanAndActivate_Scenario(t *testing.T) {
	ops, _, publisher, clock := setupOperations(t)
	ctx := context.Background()
	d0 := clock.now

	// 首次扫码：创建 + 分配
	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)
	require.NotNil(t, outcome.Positioner)

	snap := outcome.Positioner
	assert.Equal(t, "POS-1", snap.Barcode)
	assert.Equal(t, domain.StatusActive, snap.Status)
	require.NotNil(t, snap.OpenedAt)
	assert.True(t, snap.OpenedAt.Equal(d0))
	require.NotNil(t, snap.ExpiresAt)
	assert.True(t, snap.ExpiresAt.Equal(d0.Add(90*24*time.Hour)))
	require.NotNil(t, snap.NextRotationAt)
	assert.True(t, snap.NextRotationAt.Equal(d0.Add(6*time.Hour)))
	assert.Nil(t, snap.LastRotatedAt)

	assert.Equal(t, []events.Type{events.TypeActivated, events.TypeAssigned}, publisher.types())

	// 6 小时后翻转到期
	clock.now = d0.Add(6 * time.Hour)
	snaps, err := ops.ListPositioners(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].IsRotationDue)

	// 完成翻转
	res, err := ops.FindByBarcode(ctx, "POS-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	updated, err := ops.CompleteRotation(ctx, *res)
	require.NoError(t, err)

	p := domain.DecodePositioner(updated)
	require.NotNil(t, p.LastRotatedAt)
	assert.True(t, p.LastRotatedAt.Equal(d0.Add(6*time.Hour)))
	require.NotNil(t, p.NextRotationAt)
	assert.True(t, p.NextRotationAt.Equal(d0.Add(12*time.Hour)))
}

func TestScanAndActivate_ExpiredBlocked(t *testing.T) {
	ops, store, _, clock := setupOperations(t)
	ctx := context.Background()

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	// 91 天后再次扫码：拦截且不做任何变更
	clock.now = clock.now.Add(91 * 24 * time.Hour)

	before, err := store.ReadResource(ctx, domain.DeviceResourceType, outcome.Positioner.ID)
	require.NoError(t, err)

	blocked := ops.ScanAndActivate(ctx, "POS-1", patientB, 6)
	assert.False(t, blocked.Success)
	assert.True(t, blocked.ExpiredBlocked)
	assert.Contains(t, blocked.Err, "expired")

	after, err := store.ReadResource(ctx, domain.DeviceResourceType, outcome.Positioner.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// 记录仍然分配给 patientA
	p := domain.DecodePositioner(after)
	require.NotNil(t, p.CurrentPatient)
	assert.Equal(t, patientA.Reference, p.CurrentPatient.Reference)
}

func TestScanAndActivate_TerminalBlocked(t *testing.T) {
	ops, _, _, _ := setupOperations(t)
	ctx := context.Background()

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	res, err := ops.FindByBarcode(ctx, "POS-1")
	require.NoError(t, err)
	_, err = ops.Discard(ctx, *res)
	require.NoError(t, err)

	blocked := ops.ScanAndActivate(ctx, "POS-1", patientB, 6)
	assert.False(t, blocked.Success)
	assert.True(t, blocked.ExpiredBlocked)
}

func TestAssign_ImmutableOpenDate(t *testing.T) {
	ops, _, _, clock := setupOperations(t)
	ctx := context.Background()
	d0 := clock.now

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	// 一系列操作后 openedAt/expiresAt 保持不变
	clock.now = d0.Add(24 * time.Hour)
	res, _ := ops.FindByBarcode(ctx, "POS-1")
	_, err := ops.CompleteRotation(ctx, *res)
	require.NoError(t, err)

	res, _ = ops.FindByBarcode(ctx, "POS-1")
	_, err = ops.PostponeRotation(ctx, *res, 30)
	require.NoError(t, err)

	res, _ = ops.FindByBarcode(ctx, "POS-1")
	_, err = ops.Deactivate(ctx, *res)
	require.NoError(t, err)

	clock.now = d0.Add(10 * 24 * time.Hour)
	res, _ = ops.FindByBarcode(ctx, "POS-1")
	_, err = ops.Assign(ctx, *res, patientB, 4)
	require.NoError(t, err)

	res, _ = ops.FindByBarcode(ctx, "POS-1")
	p := domain.DecodePositioner(*res)
	require.NotNil(t, p.OpenedAt)
	assert.True(t, p.OpenedAt.Equal(d0))
	require.NotNil(t, p.ExpiresAt)
	assert.True(t, p.ExpiresAt.Equal(d0.Add(90*24*time.Hour)))
}

func TestAssign_ReassignmentClearsPriorState(t *testing.T) {
	ops, _, _, clock := setupOperations(t)
	ctx := context.Background()

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	// patientA 名下完成一次翻转
	clock.now = clock.now.Add(6 * time.Hour)
	res, _ := ops.FindByBarcode(ctx, "POS-1")
	_, err := ops.CompleteRotation(ctx, *res)
	require.NoError(t, err)

	// 直接重新分配给 patientB
	reassignAt := clock.now.Add(2 * time.Hour)
	clock.now = reassignAt
	res, _ = ops.FindByBarcode(ctx, "POS-1")
	updated, err := ops.Assign(ctx, *res, patientB, 4)
	require.NoError(t, err)

	p := domain.DecodePositioner(updated)
	require.NotNil(t, p.CurrentPatient)
	assert.Equal(t, patientB.Reference, p.CurrentPatient.Reference)
	require.NotNil(t, p.NextRotationAt)
	assert.True(t, p.NextRotationAt.Equal(reassignAt.Add(4*time.Hour)))
	// 不继承上一任的翻转记录
	assert.Nil(t, p.LastRotatedAt)
}

func TestAssign_TerminalRejected(t *testing.T) {
	ops, _, _, _ := setupOperations(t)
	ctx := context.Background()

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	res, _ := ops.FindByBarcode(ctx, "POS-1")
	_, err := ops.Discard(ctx, *res)
	require.NoError(t, err)

	res, _ = ops.FindByBarcode(ctx, "POS-1")
	_, err = ops.Assign(ctx, *res, patientB, 6)
	assert.ErrorIs(t, err, ErrTerminalRecord)

	_, err = ops.CompleteRotation(ctx, *res)
	assert.ErrorIs(t, err, ErrTerminalRecord)
}

func TestDeactivate_KeepsLifetimeFields(t *testing.T) {
	ops, _, _, clock := setupOperations(t)
	ctx := context.Background()
	d0 := clock.now

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	clock.now = d0.Add(6 * time.Hour)
	res, _ := ops.FindByBarcode(ctx, "POS-1")
	_, err := ops.CompleteRotation(ctx, *res)
	require.NoError(t, err)

	res, _ = ops.FindByBarcode(ctx, "POS-1")
	updated, err := ops.Deactivate(ctx, *res)
	require.NoError(t, err)

	p := domain.DecodePositioner(updated)
	assert.Nil(t, p.CurrentPatient)
	assert.Nil(t, p.AssignedAt)
	assert.Nil(t, p.RotationIntervalHours)
	assert.Nil(t, p.NextRotationAt)
	// openedAt / expiresAt / lastRotatedAt 不动
	require.NotNil(t, p.OpenedAt)
	require.NotNil(t, p.ExpiresAt)
	require.NotNil(t, p.LastRotatedAt)

	snap := domain.Evaluate(p, clock.now)
	assert.Equal(t, domain.StatusAvailable, snap.Status)
}

func TestCompleteRotation_RequiresAssignment(t *testing.T) {
	ops, _, _, _ := setupOperations(t)
	ctx := context.Background()

	created, err := ops.Create(ctx, "POS-1")
	require.NoError(t, err)

	_, err = ops.CompleteRotation(ctx, created)
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestCompleteRotation_MissingIntervalUsesDefault(t *testing.T) {
	ops, store, _, clock := setupOperations(t)
	ctx := context.Background()

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	// 模拟部分迁移/手工编辑的记录：有分配但缺少翻转间隔
	res, _ := ops.FindByBarcode(ctx, "POS-1")
	p := domain.DecodePositioner(*res)
	p.RotationIntervalHours = nil
	_, err := store.UpdateResource(ctx, domain.EncodePositioner(p, *res))
	require.NoError(t, err)

	res, _ = ops.FindByBarcode(ctx, "POS-1")
	updated, err := ops.CompleteRotation(ctx, *res)
	require.NoError(t, err)

	rotated := domain.DecodePositioner(updated)
	require.NotNil(t, rotated.NextRotationAt)
	assert.True(t, rotated.NextRotationAt.Equal(
		clock.now.Add(domain.DefaultRotationIntervalHours*time.Hour)))
}

func TestPostponeRotation_CompoundsFromSchedule(t *testing.T) {
	ops, _, _, clock := setupOperations(t)
	ctx := context.Background()
	d0 := clock.now

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)
	scheduled := d0.Add(6 * time.Hour)

	// 两次推迟 30 分钟，之间真实时间流逝与 60 分钟无关
	clock.now = d0.Add(5 * time.Hour)
	res, _ := ops.FindByBarcode(ctx, "POS-1")
	_, err := ops.PostponeRotation(ctx, *res, 30)
	require.NoError(t, err)

	clock.now = d0.Add(7 * time.Hour)
	res, _ = ops.FindByBarcode(ctx, "POS-1")
	updated, err := ops.PostponeRotation(ctx, *res, 30)
	require.NoError(t, err)

	p := domain.DecodePositioner(updated)
	require.NotNil(t, p.NextRotationAt)
	assert.True(t, p.NextRotationAt.Equal(scheduled.Add(60*time.Minute)))
}

func TestPostponeRotation_DefaultMinutes(t *testing.T) {
	ops, _, _, clock := setupOperations(t)
	ctx := context.Background()
	d0 := clock.now

	outcome := ops.ScanAndActivate(ctx, "POS-1", patientA, 6)
	require.True(t, outcome.Success)

	res, _ := ops.FindByBarcode(ctx, "POS-1")
	updated, err := ops.PostponeRotation(ctx, *res, 0)
	require.NoError(t, err)

	p := domain.DecodePositioner(updated)
	require.NotNil(t, p.NextRotationAt)
	assert.True(t, p.NextRotationAt.Equal(
		d0.Add(6*time.Hour+domain.DefaultPostponeMinutes*time.Minute)))
}

func TestFindByBarcode_MissIsNotError(t *testing.T) {
	ops, _, _, _ := setupOperations(t)

	res, err := ops.FindByBarcode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestPositionersForPatient(t *testing.T) {
	ops, _, _, _ := setupOperations(t)
	ctx := context.Background()

	require.True(t, ops.ScanAndActivate(ctx, "POS-1", patientA, 6).Success)
	require.True(t, ops.ScanAndActivate(ctx, "POS-2", patientB, 6).Success)
	require.True(t, ops.ScanAndActivate(ctx, "POS-3", patientA, 4).Success)

	snaps, err := ops.PositionersForPatient(ctx, patientA.Reference)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	for _, snap := range snaps {
		assert.Equal(t, patientA.Reference, snap.CurrentPatient.Reference)
	}
}

func TestStats(t *testing.T) {
	ops, _, _, clock := setupOperations(t)
	ctx := context.Background()

	require.True(t, ops.ScanAndActivate(ctx, "POS-1", patientA, 6).Success)
	require.True(t, ops.ScanAndActivate(ctx, "POS-2", patientB, 6).Success)
	_, err := ops.Create(ctx, "POS-3")
	require.NoError(t, err)

	res, _ := ops.FindByBarcode(ctx, "POS-2")
	_, err = ops.Discard(ctx, *res)
	require.NoError(t, err)

	// POS-1 翻转到期
	clock.now = clock.now.Add(6 * time.Hour)

	stats, err := ops.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, 0, stats.Expired)
	assert.Equal(t, 1, stats.RotationDue)
}
