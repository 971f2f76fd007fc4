package domain

import (
	"time"
)

// 生命周期引擎：纯函数，当前时间作为显式入参

// ExpirationDate 从开封时间计算过期时间（固定 90 天的绝对时长，不按月历计算）
func ExpirationDate(openedAt time.Time) time.Time {
	return openedAt.Add(ExpirationDays * 24 * time.Hour)
}

// IsExpired 是否已过期（与 RecordStatus 无关，扫描器据此决定是否废弃）
func IsExpired(p Positioner, now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return !now.Before(*p.ExpiresAt)
}

// StatusOf 计算派生状态
// 判定顺序不可调换：discarded > expired > active > available
// 已废弃的记录即使过了有效期也报告 discarded；
// 过期但仍有分配的记录报告 expired（过期且在用由协作方单独告警，不是独立状态）
func StatusOf(p Positioner, now time.Time) Status {
	if p.Terminal() {
		return StatusDiscarded
	}
	if IsExpired(p, now) {
		return StatusExpired
	}
	if p.Assigned() {
		return StatusActive
	}
	return StatusAvailable
}

// DaysRemaining 剩余天数（向上取整，最小为 0）
func DaysRemaining(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	day := 24 * time.Hour
	return int((remaining + day - 1) / day)
}

// RotationDue 翻转是否到期（包含边界：now == nextRotationAt 即到期）
func RotationDue(nextRotationAt *time.Time, now time.Time) bool {
	if nextRotationAt == nil {
		return false
	}
	return !now.Before(*nextRotationAt)
}

// Evaluate 计算带派生字段的完整视图
func Evaluate(p Positioner, now time.Time) Snapshot {
	snap := Snapshot{
		Positioner:    p,
		Status:        StatusOf(p, now),
		IsRotationDue: RotationDue(p.NextRotationAt, now),
	}
	if p.ExpiresAt != nil {
		days := DaysRemaining(*p.ExpiresAt, now)
		snap.DaysRemaining = &days
	}
	return snap
}
