// Package prune は添付先を失ったスロットを削除するジョブを提供する。
// 未登録のtarget_typeを持つスロットと、削除済みリソースに添付されたスロットが対象。
package prune

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/swim/internal/registry"
	"github.com/hitoshi/swim/internal/repository"
)

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordSlotsPruned(count int64)
}

// Job は格納種別ごとに孤立したスロットを削除するジョブ。
// 削除対象がない場合もエラーにならない。
type Job struct {
	slots    repository.SlotRepository
	registry *registry.Registry
	metrics  Recorder
	logger   *slog.Logger
}

// NewJob はJobを生成する。metricsはnilでもよい。
func NewJob(slots repository.SlotRepository, reg *registry.Registry, metrics Recorder, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		slots:    slots,
		registry: reg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run はレジストリの全格納種別について孤立スロットを削除し、合計件数を返す。
func (j *Job) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	targetTypes := j.registry.TargetTypes()

	var total int64
	for _, kind := range j.registry.StorageKinds() {
		n, err := j.slots.DeleteDangling(ctx, kind, targetTypes)
		if err != nil {
			j.logger.Error("スロット掃除ジョブの実行に失敗しました",
				slog.String("storage", string(kind)),
				slog.String("error", err.Error()),
			)
			return total, fmt.Errorf("%s スロットの削除に失敗しました: %w", kind, err)
		}
		total += n
		j.logger.Debug("スロットを削除しました",
			slog.String("storage", string(kind)),
			slog.Int64("deleted_count", n),
		)
	}

	if j.metrics != nil {
		j.metrics.RecordSlotsPruned(total)
	}
	j.logger.Info("スロット掃除ジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Any("target_types", targetTypes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、ctxがキャンセルされるまで継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("スロット掃除スケジューラを開始しました", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("スロット掃除スケジューラを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("スロット掃除サイクルの実行に失敗しました", slog.String("error", err.Error()))
	}
}
