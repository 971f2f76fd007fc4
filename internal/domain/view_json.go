package domain

import "time"

// ToJSON 转换为JSON格式（用于HTTP响应）
// 缺失字段不输出 key（与存储表示一致：缺失即未设置）
func (s *Snapshot) ToJSON() map[string]any {
	m := map[string]any{
		"id":              s.ID,
		"barcode":         s.Barcode,
		"record_status":   s.RecordStatus,
		"status":          string(s.Status),
		"is_rotation_due": s.IsRotationDue,
	}
	if s.OpenedAt != nil {
		m["opened_at"] = s.OpenedAt.Format(time.RFC3339)
	}
	if s.ExpiresAt != nil {
		m["expires_at"] = s.ExpiresAt.Format(time.RFC3339)
	}
	if s.DaysRemaining != nil {
		m["days_remaining"] = *s.DaysRemaining
	}
	if s.CurrentPatient != nil {
		m["current_patient"] = map[string]any{
			"reference": s.CurrentPatient.Reference,
			"display":   s.CurrentPatient.Display,
		}
	}
	if s.AssignedAt != nil {
		m["assigned_at"] = s.AssignedAt.Format(time.RFC3339)
	}
	if s.RotationIntervalHours != nil {
		m["rotation_interval_hours"] = *s.RotationIntervalHours
	}
	if s.NextRotationAt != nil {
		m["next_rotation_at"] = s.NextRotationAt.Format(time.RFC3339)
	}
	if s.LastRotatedAt != nil {
		m["last_rotated_at"] = s.LastRotatedAt.Format(time.RFC3339)
	}
	return m
}
