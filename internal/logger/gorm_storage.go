package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RequestLogRecord GORM 存储模型
type RequestLogRecord struct {
	ID            uint      `gorm:"primaryKey"`
	Timestamp     time.Time `gorm:"index"`
	RequestID     string    `gorm:"index;size:64"`
	Method        string    `gorm:"size:16"`
	Path          string    `gorm:"size:256"`
	StatusCode    int       `gorm:"index"`
	DurationMs    int64
	AttemptCount  int
	AccountEmail  string `gorm:"size:256"`
	Model         string `gorm:"size:128"`
	MappedModel   string `gorm:"size:128"`
	Protocol      string `gorm:"size:16"`
	IsStreaming   bool
	InputTokens   int
	OutputTokens  int
	Error         string `gorm:"type:text"`
	ErrorCategory string `gorm:"size:32"`
}

func (RequestLogRecord) TableName() string {
	return "request_logs"
}

// GORMStorage 基于 GORM + sqlite 的请求日志存储
type GORMStorage struct {
	db      *gorm.DB
	saveCh  chan *RequestLog
	closeCh chan struct{}
}

const saveQueueSize = 256

// NewGORMStorage 在指定目录下创建/打开日志数据库
func NewGORMStorage(directory string) (*GORMStorage, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	dbPath := filepath.Join(directory, "logs.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log database: %v", err)
	}

	if err := db.AutoMigrate(&RequestLogRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate log schema: %v", err)
	}

	s := &GORMStorage{
		db:      db,
		saveCh:  make(chan *RequestLog, saveQueueSize),
		closeCh: make(chan struct{}),
	}

	// 异步写入，避免阻塞请求路径
	go s.saveLoop()

	return s, nil
}

func (s *GORMStorage) saveLoop() {
	for {
		select {
		case log := <-s.saveCh:
			s.db.Create(toRecord(log))
		case <-s.closeCh:
			// 排空剩余日志
			for {
				select {
				case log := <-s.saveCh:
					s.db.Create(toRecord(log))
				default:
					return
				}
			}
		}
	}
}

func toRecord(log *RequestLog) *RequestLogRecord {
	return &RequestLogRecord{
		Timestamp:     log.Timestamp,
		RequestID:     log.RequestID,
		Method:        log.Method,
		Path:          log.Path,
		StatusCode:    log.StatusCode,
		DurationMs:    log.DurationMs,
		AttemptCount:  log.AttemptCount,
		AccountEmail:  log.AccountEmail,
		Model:         log.Model,
		MappedModel:   log.MappedModel,
		Protocol:      log.Protocol,
		IsStreaming:   log.IsStreaming,
		InputTokens:   log.InputTokens,
		OutputTokens:  log.OutputTokens,
		Error:         log.Error,
		ErrorCategory: log.ErrorCategory,
	}
}

func fromRecord(r *RequestLogRecord) *RequestLog {
	return &RequestLog{
		Timestamp:     r.Timestamp,
		RequestID:     r.RequestID,
		Method:        r.Method,
		Path:          r.Path,
		StatusCode:    r.StatusCode,
		DurationMs:    r.DurationMs,
		AttemptCount:  r.AttemptCount,
		AccountEmail:  r.AccountEmail,
		Model:         r.Model,
		MappedModel:   r.MappedModel,
		Protocol:      r.Protocol,
		IsStreaming:   r.IsStreaming,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		Error:         r.Error,
		ErrorCategory: r.ErrorCategory,
	}
}

// SaveLog 非阻塞保存；队列满时丢弃（日志不值得阻塞请求）
func (s *GORMStorage) SaveLog(log *RequestLog) {
	select {
	case s.saveCh <- log:
	default:
	}
}

func (s *GORMStorage) GetLogs(limit, offset int, failedOnly bool) ([]*RequestLog, int, error) {
	var records []RequestLogRecord
	query := s.db.Model(&RequestLogRecord{})
	if failedOnly {
		query = query.Where("status_code >= ?", 400)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}

	logs := make([]*RequestLog, 0, len(records))
	for i := range records {
		logs = append(logs, fromRecord(&records[i]))
	}
	return logs, int(total), nil
}

func (s *GORMStorage) CleanupLogsByDays(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result := s.db.Where("timestamp < ?", cutoff).Delete(&RequestLogRecord{})
	return result.RowsAffected, result.Error
}

func (s *GORMStorage) Close() error {
	close(s.closeCh)
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
