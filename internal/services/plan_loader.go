package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"homeheal/internal/models"
	"homeheal/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RuntimePlan 运行期预案：持久化记录 + 解析后的文档
type RuntimePlan struct {
	ID     uint
	Record models.HealingPlan
	Doc    models.PlanDocument
}

// PlanLoader 预案加载器
// 从内置目录和可选的用户目录加载YAML预案，校验后同步进数据库；
// 运行期的启用状态和执行统计以数据库为准，同步时不会被文件覆盖
type PlanLoader struct {
	db         *gorm.DB
	builtinDir string
	userDir    string
	validate   *validator.Validate
}

// NewPlanLoader 创建预案加载器
func NewPlanLoader(db *gorm.DB, builtinDir, userDir string) *PlanLoader {
	return &PlanLoader{
		db:         db,
		builtinDir: builtinDir,
		userDir:    userDir,
		validate:   validator.New(),
	}
}

// LoadAll 加载所有预案目录并同步进数据库
// 单个文件校验失败会记录错误并继续处理其余文件，返回 (成功数, 失败数)
func (l *PlanLoader) LoadAll() (int, int) {
	log := logger.GetLogger()
	loaded, failed := 0, 0

	dirs := []string{l.builtinDir}
	if l.userDir != "" {
		dirs = append(dirs, l.userDir)
	}

	for _, dir := range dirs {
		files, err := l.listPlanFiles(dir)
		if err != nil {
			log.Warnf("读取预案目录 %s 失败: %v", dir, err)
			continue
		}
		for _, file := range files {
			doc, err := l.LoadFile(file)
			if err != nil {
				log.Errorf("预案文件 %s 校验失败: %v", file, err)
				failed++
				continue
			}
			if err := l.syncPlan(doc, file); err != nil {
				log.Errorf("同步预案 %s 失败: %v", doc.Name, err)
				failed++
				continue
			}
			loaded++
		}
	}

	log.Infof("预案加载完成: %d 成功, %d 失败", loaded, failed)
	return loaded, failed
}

// listPlanFiles 列出目录下的YAML文件
func (l *PlanLoader) listPlanFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile 解析并校验单个预案文件
func (l *PlanLoader) LoadFile(path string) (*models.PlanDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return l.Parse(raw)
}

// Parse 解析并校验预案YAML内容
func (l *PlanLoader) Parse(raw []byte) (*models.PlanDocument, error) {
	var doc models.PlanDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("YAML解析失败: %v", err)
	}
	if err := l.Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate 校验预案文档
func (l *PlanLoader) Validate(doc *models.PlanDocument) error {
	if err := l.validate.Struct(doc); err != nil {
		return err
	}

	// 匹配条件至少一项非空
	if doc.Match.Empty() {
		return errors.New("match 至少需要指定一个匹配条件")
	}

	// 步骤超时范围 1-600 秒（0 表示使用默认值）
	for i, step := range doc.Steps {
		if step.TimeoutSeconds != 0 && (step.TimeoutSeconds < 1 || step.TimeoutSeconds > 600) {
			return fmt.Errorf("步骤 %d (%s) 的 timeout_seconds 必须在 1-600 之间", i+1, step.Name)
		}
	}

	if doc.Match.TimeWindow != nil {
		w := doc.Match.TimeWindow
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return errors.New("time_window 小时范围非法")
		}
	}

	return nil
}

// syncPlan 把校验过的预案写入数据库
// 更新已有预案时保留数据库里的启用状态和执行统计
func (l *PlanLoader) syncPlan(doc *models.PlanDocument, sourceFile string) error {
	matchJSON, err := json.Marshal(doc.Match)
	if err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(doc.Steps)
	if err != nil {
		return err
	}
	onFailureJSON, err := json.Marshal(doc.OnFailure)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return err
	}

	var existing models.HealingPlan
	err = l.db.Where("name = ?", doc.Name).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		plan := models.HealingPlan{
			Name:        doc.Name,
			Version:     doc.Version,
			Description: doc.Description,
			Enabled:     doc.Enabled,
			Priority:    doc.Priority,
			Match:       matchJSON,
			Steps:       stepsJSON,
			OnFailure:   onFailureJSON,
			Tags:        datatypes.JSON(tagsJSON),
			SourceFile:  sourceFile,
		}
		return l.db.Create(&plan).Error
	}
	if err != nil {
		return err
	}

	// 只更新定义字段，Enabled 和统计保持数据库状态
	return l.db.Model(&existing).Updates(map[string]interface{}{
		"version":     doc.Version,
		"description": doc.Description,
		"priority":    doc.Priority,
		"match":       matchJSON,
		"steps":       stepsJSON,
		"on_failure":  onFailureJSON,
		"tags":        tagsJSON,
		"source_file": sourceFile,
	}).Error
}

// GetAllEnabledPlans 返回所有启用的预案，按优先级降序
// 从数据库重建文档，数据库是运行时启用状态的唯一真实来源
func (l *PlanLoader) GetAllEnabledPlans() ([]RuntimePlan, error) {
	var records []models.HealingPlan
	if err := l.db.Where("enabled = ?", true).
		Order("priority DESC, name ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	plans := make([]RuntimePlan, 0, len(records))
	for _, record := range records {
		doc, err := l.documentFromRecord(&record)
		if err != nil {
			logger.GetLogger().Errorf("预案 %s 的持久化内容损坏: %v", record.Name, err)
			continue
		}
		plans = append(plans, RuntimePlan{ID: record.ID, Record: record, Doc: *doc})
	}
	return plans, nil
}

// documentFromRecord 从数据库行重建预案文档
func (l *PlanLoader) documentFromRecord(record *models.HealingPlan) (*models.PlanDocument, error) {
	doc := &models.PlanDocument{
		Name:        record.Name,
		Version:     record.Version,
		Description: record.Description,
		Enabled:     record.Enabled,
		Priority:    record.Priority,
	}
	if len(record.Match) > 0 {
		if err := json.Unmarshal(record.Match, &doc.Match); err != nil {
			return nil, err
		}
	}
	if len(record.Steps) > 0 {
		if err := json.Unmarshal(record.Steps, &doc.Steps); err != nil {
			return nil, err
		}
	}
	if len(record.OnFailure) > 0 {
		if err := json.Unmarshal(record.OnFailure, &doc.OnFailure); err != nil {
			return nil, err
		}
	}
	if len(record.Tags) > 0 {
		if err := json.Unmarshal(record.Tags, &doc.Tags); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
