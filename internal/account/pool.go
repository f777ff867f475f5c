package account

import (
	"context"
	"sync"
	"time"

	"antigravity-gateway/internal/common/errors"
)

// TokenRefresher token刷新协作方接口。刷新成功后实现方需调用
// UpdateTokens写入新凭证
type TokenRefresher interface {
	Refresh(ctx context.Context, account *Account) error
}

// Pool 账号池。池级读写锁保护账号列表，账号级互斥锁保护单条记录，
// 状态变更按账号原子执行，不做全局串行化
type Pool struct {
	store    *Store
	grace    time.Duration
	accounts []*Account
	mutex    sync.RWMutex
}

// NewPool 从存储加载账号构建池
func NewPool(store *Store, grace time.Duration) (*Pool, error) {
	p := &Pool{store: store, grace: grace}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload 重新加载账号列表，保留同ID账号的运行期状态
func (p *Pool) Reload() error {
	loaded, err := p.store.LoadAccounts()
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	existing := make(map[int64]*Account, len(p.accounts))
	for _, a := range p.accounts {
		existing[a.ID] = a
	}

	merged := make([]*Account, 0, len(loaded))
	for _, a := range loaded {
		if old, ok := existing[a.ID]; ok {
			// 外部采集器可能更新了凭证，刷新持久化字段但保留在途状态
			old.mutex.Lock()
			old.Email = a.Email
			old.AccessToken = a.AccessToken
			old.RefreshToken = a.RefreshToken
			old.TokenExpiry = a.TokenExpiry
			old.ProjectID = a.ProjectID
			old.Disabled = a.Disabled
			old.Forbidden = a.Forbidden
			old.QuotaJSON = a.QuotaJSON
			old.quotas = nil
			old.mutex.Unlock()
			merged = append(merged, old)
		} else {
			merged = append(merged, a)
		}
	}

	p.accounts = merged
	return nil
}

// Size 当前池大小
func (p *Pool) Size() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.accounts)
}

// Select 为指定模型选取可用账号：过滤禁用/封禁/已排除账号，
// 要求token有效或可刷新，优先剩余配额最高者，相同配额取最久未用者。
// 无可用账号时立即返回PoolExhausted，不重试
func (p *Pool) Select(model string, excluded map[int64]bool) (*Account, error) {
	p.mutex.RLock()
	candidates := make([]*Account, len(p.accounts))
	copy(candidates, p.accounts)
	p.mutex.RUnlock()

	var best *Account
	var bestQuota float64
	var bestLastUsed time.Time

	for _, a := range candidates {
		view := a.Snapshot()
		if view.Disabled || view.Forbidden {
			continue
		}
		if excluded != nil && excluded[view.ID] {
			continue
		}
		if !a.TokenValid(p.grace) && !a.Refreshable() {
			continue
		}

		quota := a.QuotaFor(model)
		if quota <= 0 {
			continue
		}

		if best == nil || quota > bestQuota ||
			(quota == bestQuota && view.LastUsed.Before(bestLastUsed)) {
			best = a
			bestQuota = quota
			bestLastUsed = view.LastUsed
		}
	}

	if best == nil {
		return nil, errors.NewPoolExhaustedError("no eligible account for model " + model)
	}
	return best, nil
}

// MarkDisabled 禁用账号并持久化。token刷新失败后调用，
// 避免后续请求重选死号再跑一次注定失败的刷新
func (p *Pool) MarkDisabled(a *Account) error {
	a.mutex.Lock()
	a.Disabled = true
	a.mutex.Unlock()
	return p.store.SaveAccount(a)
}

// MarkForbidden 标记账号被上游拒绝并持久化，后续选号永久排除
func (p *Pool) MarkForbidden(a *Account) error {
	a.mutex.Lock()
	a.Forbidden = true
	a.mutex.Unlock()
	return p.store.SaveAccount(a)
}

// MarkQuotaExhausted 仅将该账号指定模型的配额记为耗尽，不禁用整个账号
func (p *Pool) MarkQuotaExhausted(a *Account, model string, resetTime time.Time) error {
	a.SetQuota(model, 0, resetTime)
	return p.store.SaveAccount(a)
}

// Persist 回写账号当前状态（token刷新、LRU时间戳等）
func (p *Pool) Persist(a *Account) error {
	return p.store.SaveAccount(a)
}
