package domain

import (
	"time"

	"positioner-tracker/internal/fhir"
)

// 定位垫领域模型
//
// 全部状态存放在单个 Device 资源上：
// - status: 'active' | 'inactive'（inactive = 已废弃，终态）
// - identifier[0].value: 条码（业务主键）
// - extension: 生命周期状态（开封时间、过期时间、当前分配、翻转排程）
//
// 核心规则：过期倒计时全局唯一且永不重置。
// - 90 天倒计时在首次扫码时启动一次
// - 重新分配给新患者不会重启倒计时

const (
	// DeviceResourceType 定位垫持久化的资源类型
	DeviceResourceType = "Device"

	// PositionerTypeCode 设备类型标签（区分定位垫与其他 Device 记录）
	PositionerTypeCode = "fluidized-positioner"

	// BarcodeSystem 条码标识的 system
	BarcodeSystem = "https://example.com/fhir/positioner-barcode"

	// DeviceTypeSystem 设备类型编码的 system
	DeviceTypeSystem = "https://example.com/fhir/device-type"

	// ExpirationDays 首次开封后的可用天数
	ExpirationDays = 90

	// DefaultRotationIntervalHours 翻转间隔缺失时的兜底值（数据完整性边界情况）
	DefaultRotationIntervalHours = 6

	// DefaultPostponeMinutes 翻转推迟的默认分钟数
	DefaultPostponeMinutes = 30
)

// 扩展 url（与既有存量数据保持一致，不可改动）
const (
	extOpenedAt              = "https://example.com/fhir/positioner-opened-at"
	extExpiresAt             = "https://example.com/fhir/positioner-expires-at"
	extCurrentPatient        = "https://example.com/fhir/current-patient"
	extAssignedAt            = "https://example.com/fhir/assigned-at"
	extRotationIntervalHours = "https://example.com/fhir/rotation-interval-hours"
	extNextRotationAt        = "https://example.com/fhir/next-rotation-at"
	extLastRotatedAt         = "https://example.com/fhir/last-rotated-at"
)

// Status 派生状态（不落库，按当前时间计算）
type Status string

const (
	StatusAvailable Status = "available"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusDiscarded Status = "discarded"
)

// Positioner 定位垫类型化视图（存储字段，nil 表示缺失）
type Positioner struct {
	ID           string
	Barcode      string
	RecordStatus string // fhir.StatusActive | fhir.StatusInactive

	// OpenedAt 首次开封时间。一经设置永不改变，重新分配不会重置。
	OpenedAt  *time.Time
	ExpiresAt *time.Time // OpenedAt + 90 天，首次开封时计算一次后落库

	// 分配字段（四个字段作为一个整体设置/清除）
	CurrentPatient        *fhir.Reference
	AssignedAt            *time.Time
	RotationIntervalHours *int
	NextRotationAt        *time.Time

	// LastRotatedAt 当前分配下最近一次完成翻转的时间；从未翻转则缺失
	LastRotatedAt *time.Time
}

// Assigned 是否有当前分配
func (p *Positioner) Assigned() bool {
	return p.CurrentPatient != nil
}

// Terminal 是否已进入终态（废弃后不允许任何分配/翻转操作）
func (p *Positioner) Terminal() bool {
	return p.RecordStatus == fhir.StatusInactive
}

// Snapshot 带派生字段的视图（返回给 UI 协作方）
type Snapshot struct {
	Positioner

	Status        Status
	DaysRemaining *int // ExpiresAt 缺失时为 nil
	IsRotationDue bool
}
