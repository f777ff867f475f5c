package account

import (
	"encoding/json"
	"sync"
	"time"
)

// ModelQuota 单个模型的配额快照
type ModelQuota struct {
	// 剩余配额百分比，[0,100]
	RemainingPercent float64   `json:"remaining_percent"`
	ResetTime        time.Time `json:"reset_time,omitempty"`
	SyncedAt         time.Time `json:"synced_at,omitempty"`
}

// Account 账号记录，凭证由外部采集器写入，网关只更新配额/健康状态
type Account struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:256" json:"email"`
	AccessToken  string    `gorm:"type:text" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	TokenExpiry  time.Time `json:"token_expiry"`
	ProjectID    string    `gorm:"size:128" json:"project_id"`
	Disabled     bool      `gorm:"index" json:"disabled"`
	Forbidden    bool      `gorm:"index" json:"forbidden"`
	// 各模型配额快照，序列化为JSON存储
	QuotaJSON string    `gorm:"type:text" json:"-"`
	LastUsed  time.Time `json:"last_used"`

	// 运行期状态，不持久化
	quotas   map[string]ModelQuota `gorm:"-" json:"-"`
	inFlight int                   `gorm:"-" json:"-"`
	mutex    sync.Mutex            `gorm:"-" json:"-"`
}

func (*Account) TableName() string {
	return "accounts"
}

// loadQuotas 反序列化配额快照，仅在未加载时执行
func (a *Account) loadQuotas() {
	if a.quotas != nil {
		return
	}
	a.quotas = make(map[string]ModelQuota)
	if a.QuotaJSON != "" {
		// 解析失败时视为无快照，不阻断选号
		_ = json.Unmarshal([]byte(a.QuotaJSON), &a.quotas)
	}
}

func (a *Account) storeQuotas() {
	data, err := json.Marshal(a.quotas)
	if err != nil {
		return
	}
	a.QuotaJSON = string(data)
}

// QuotaFor 返回指定模型的剩余配额百分比。缺失条目表示"未知"，
// 按满额参与排序，而不是按零处理
func (a *Account) QuotaFor(model string) float64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.loadQuotas()
	q, ok := a.quotas[model]
	if !ok {
		return 100
	}
	// 配额重置时间已过则视为恢复满额
	if !q.ResetTime.IsZero() && time.Now().After(q.ResetTime) {
		return 100
	}
	return q.RemainingPercent
}

// SetQuota 更新指定模型的配额快照
func (a *Account) SetQuota(model string, remainingPercent float64, resetTime time.Time) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.loadQuotas()
	a.quotas[model] = ModelQuota{
		RemainingPercent: remainingPercent,
		ResetTime:        resetTime,
		SyncedAt:         time.Now(),
	}
	a.storeQuotas()
}

// TokenValid 判断token是否在有效期内（含宽限期）
func (a *Account) TokenValid(grace time.Duration) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.AccessToken == "" {
		return false
	}
	if a.TokenExpiry.IsZero() {
		return true
	}
	return time.Now().Before(a.TokenExpiry.Add(grace))
}

// Refreshable 持有refresh token即可由外部协作方刷新
func (a *Account) Refreshable() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.RefreshToken != ""
}

// UpdateTokens token刷新成功后替换凭证
func (a *Account) UpdateTokens(accessToken string, expiry time.Time) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.AccessToken = accessToken
	a.TokenExpiry = expiry
}

// Credentials 返回当前访问凭证与项目ID
func (a *Account) Credentials() (accessToken, projectID string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.AccessToken, a.ProjectID
}

// Acquire 标记账号进入使用并更新LRU时间戳
func (a *Account) Acquire() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.inFlight++
	a.LastUsed = time.Now()
}

// Release 释放在途标记，请求结束或取消时必须调用
func (a *Account) Release() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.inFlight > 0 {
		a.inFlight--
	}
}

// Snapshot 返回选号用的只读视图
func (a *Account) Snapshot() AccountView {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return AccountView{
		ID:        a.ID,
		Email:     a.Email,
		Disabled:  a.Disabled,
		Forbidden: a.Forbidden,
		LastUsed:  a.LastUsed,
		InFlight:  a.inFlight,
	}
}

// AccountView 账号状态快照，避免调用方直接读写内部字段
type AccountView struct {
	ID        int64
	Email     string
	Disabled  bool
	Forbidden bool
	LastUsed  time.Time
	InFlight  int
}
