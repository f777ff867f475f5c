package account

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store 账号持久化存储。凭证记录由外部采集器写入同一数据库，
// 网关负责读取账号并回写配额/禁用状态
type Store struct {
	db *gorm.DB
}

// NewStore 打开账号数据库并确保表结构存在
func NewStore(databasePath string) (*Store, error) {
	if dir := filepath.Dir(databasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create account database directory: %v", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account database: %v", err)
	}

	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("failed to migrate account schema: %v", err)
	}

	return &Store{db: db}, nil
}

// CreateAccount 写入新账号记录
func (s *Store) CreateAccount(a *Account) error {
	if err := s.db.Create(a).Error; err != nil {
		return fmt.Errorf("failed to create account: %v", err)
	}
	return nil
}

// LoadAccounts 加载全部账号记录（含禁用账号，过滤在选号阶段做）
func (s *Store) LoadAccounts() ([]*Account, error) {
	var accounts []*Account
	if err := s.db.Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load accounts: %v", err)
	}
	return accounts, nil
}

// SaveAccount 回写账号状态（disabled、forbidden、配额快照、token、LRU时间戳）
func (s *Store) SaveAccount(a *Account) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	updates := map[string]interface{}{
		"access_token": a.AccessToken,
		"token_expiry": a.TokenExpiry,
		"disabled":     a.Disabled,
		"forbidden":    a.Forbidden,
		"quota_json":   a.QuotaJSON,
		"last_used":    a.LastUsed,
	}
	return s.db.Model(&Account{}).Where("id = ?", a.ID).Updates(updates).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
