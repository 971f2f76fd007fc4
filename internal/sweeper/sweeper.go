package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"positioner-tracker/internal/domain"
	"positioner-tracker/internal/workflow"
)

// Sweeper 过期扫描器
// 定时遍历全部未废弃的定位垫，过期即自动废弃（90 天规则的强制执行点）
// 单条失败只记日志，不阻塞其余记录的处理
type Sweeper struct {
	ops      *workflow.Operations
	interval time.Duration
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewSweeper 创建过期扫描器
func NewSweeper(ops *workflow.Operations, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		ops:      ops,
		interval: interval,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// WithClock 注入时钟（测试用）
func (s *Sweeper) WithClock(nowFn func() time.Time) *Sweeper {
	s.nowFn = nowFn
	return s
}

// Run 启动定时扫描（阻塞直到 ctx 取消）
// 停止定时器是唯一的取消手段；已发出的存储调用不中断，完成后结果被丢弃
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting expiration sweeper",
		zap.Duration("interval", s.interval),
	)

	// 启动时先执行一次
	if err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("Failed to sweep expired positioners on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiration sweeper stopped")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Failed to sweep expired positioners", zap.Error(err))
			}
		}
	}
}

// SweepOnce 执行一次全量扫描
// 幂等：已废弃的记录在评估前被过滤，重复执行无副作用
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	resources, err := s.ops.ListResources(ctx)
	if err != nil {
		return err
	}

	now := s.nowFn()
	discardedCount := 0
	errorCount := 0

	for _, res := range resources {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		p := domain.DecodePositioner(res)
		if p.Terminal() {
			continue
		}
		if !domain.IsExpired(p, now) {
			continue
		}

		s.logger.Info("Auto-discarding expired positioner",
			zap.String("device_id", res.ID),
			zap.String("barcode", p.Barcode),
			zap.Timep("expires_at", p.ExpiresAt),
		)
		if _, err := s.ops.Discard(ctx, res); err != nil {
			s.logger.Error("Failed to discard expired positioner",
				zap.String("device_id", res.ID),
				zap.String("barcode", p.Barcode),
				zap.Error(err),
			)
			errorCount++
			continue
		}
		discardedCount++
	}

	if discardedCount > 0 || errorCount > 0 {
		s.logger.Info("Completed expiration sweep",
			zap.Int("total_count", len(resources)),
			zap.Int("discarded_count", discardedCount),
			zap.Int("error_count", errorCount),
		)
	}

	return nil
}
