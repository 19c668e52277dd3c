package services

import (
	"fmt"

	"homeheal/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PlanSyncScheduler 预案目录同步调度器
// 周期性重新加载预案目录，让文件改动无需重启即可生效
type PlanSyncScheduler struct {
	loader    *PlanLoader
	cron      *cron.Cron
	cronExpr  string
	jobID     cron.EntryID
	logger    *logrus.Logger
	isRunning bool
}

// NewPlanSyncScheduler 创建预案同步调度器
func NewPlanSyncScheduler(loader *PlanLoader, cronExpr string) *PlanSyncScheduler {
	return &PlanSyncScheduler{
		loader:   loader,
		cron:     cron.New(cron.WithSeconds()),
		cronExpr: cronExpr,
		logger:   logger.GetLogger(),
	}
}

// Start 启动调度器，先做一次全量加载再挂上定时任务
func (s *PlanSyncScheduler) Start() error {
	if s.isRunning {
		return fmt.Errorf("预案同步调度器已经在运行")
	}

	loaded, failed := s.loader.LoadAll()
	s.logger.Infof("启动预案同步调度器: 首次加载 %d 成功 %d 失败", loaded, failed)

	jobID, err := s.cron.AddFunc(s.cronExpr, func() {
		s.loader.LoadAll()
	})
	if err != nil {
		return fmt.Errorf("注册预案同步任务失败: %v", err)
	}
	s.jobID = jobID

	s.cron.Start()
	s.isRunning = true
	return nil
}

// Stop 停止调度器
func (s *PlanSyncScheduler) Stop() {
	if !s.isRunning {
		return
	}
	s.logger.Info("停止预案同步调度器")
	s.cron.Stop()
	s.isRunning = false
}
