package domain

// Stats 按派生状态统计（仪表盘概览）
type Stats struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Active      int `json:"active"`
	Expired     int `json:"expired"`
	Discarded   int `json:"discarded"`
	RotationDue int `json:"rotation_due"`
}

// ComputeStats 从视图列表汇总统计
func ComputeStats(snapshots []Snapshot) Stats {
	stats := Stats{Total: len(snapshots)}
	for _, snap := range snapshots {
		switch snap.Status {
		case StatusAvailable:
			stats.Available++
		case StatusActive:
			stats.Active++
		case StatusExpired:
			stats.Expired++
		case StatusDiscarded:
			stats.Discarded++
		}
		if snap.IsRotationDue && snap.Status == StatusActive {
			stats.RotationDue++
		}
	}
	return stats
}
