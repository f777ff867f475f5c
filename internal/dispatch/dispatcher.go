package dispatch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"antigravity-gateway/internal/account"
	"antigravity-gateway/internal/common/errors"
	"antigravity-gateway/internal/conversion"
	"antigravity-gateway/internal/logger"
	"antigravity-gateway/internal/upstream"
)

// 读取上游错误体的上限
const maxErrorBodySize = 64 * 1024

// Dispatcher 账号调度器。按配额选号，失败按错误类别换号重试：
// 401刷新后重试，403永久封禁账号，429仅标记该模型配额耗尽，
// 404直接失败，网络/5xx退避后重试
type Dispatcher struct {
	pool           *account.Pool
	client         *upstream.Client
	refresher      account.TokenRefresher
	logger         *logger.Logger
	maxAttempts    int
	attemptTimeout time.Duration
	grace          time.Duration
}

// Result 调度成功结果。调用方消费完Response.Body后必须调用Finish
type Result struct {
	Response *http.Response
	Account  *account.Account
	Attempts int
	pool     *account.Pool
	cancel   context.CancelFunc
}

// Finish 释放账号在途标记并回写LRU状态
func (r *Result) Finish() {
	if r.cancel != nil {
		r.cancel()
	}
	r.Account.Release()
	// 终态落库，失败不影响请求结果
	_ = r.pool.Persist(r.Account)
}

func NewDispatcher(pool *account.Pool, client *upstream.Client, refresher account.TokenRefresher,
	log *logger.Logger, maxAttempts int, attemptTimeout, grace time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Dispatcher{
		pool:           pool,
		client:         client,
		refresher:      refresher,
		logger:         log,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		grace:          grace,
	}
}

// Dispatch 执行一次带换号重试的上游调用。重试串行执行，
// 绝不并行发起两次上游请求
func (d *Dispatcher) Dispatch(ctx context.Context, payload *conversion.UpstreamPayload, stream bool) (*Result, *errors.GatewayError) {
	maxAttempts := d.maxAttempts
	if poolSize := d.pool.Size(); poolSize < maxAttempts {
		maxAttempts = poolSize
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	method := upstream.MethodGenerateContent
	if stream {
		method = upstream.MethodStreamGenerateContent
	}

	excluded := make(map[int64]bool)
	var lastErr *errors.GatewayError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, errors.NewStreamAbortedError(ctx.Err())
		}

		acct, err := d.pool.Select(payload.Model, excluded)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, errors.AsGatewayError(err)
		}

		// token过期超出宽限期时先行刷新，刷新失败直接禁用该账号
		if !acct.TokenValid(d.grace) {
			if refreshErr := d.refresher.Refresh(ctx, acct); refreshErr != nil {
				d.logger.Warn("token refresh failed, disabling account", map[string]interface{}{
					"email":   acct.Email,
					"attempt": attempt,
				})
				_ = d.pool.MarkDisabled(acct)
				excluded[acct.ID] = true
				lastErr = errors.NewTransientError("token refresh failed", refreshErr)
				continue
			}
		}

		acct.Acquire()

		attemptCtx := ctx
		var cancel context.CancelFunc
		if !stream && d.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		}

		accessToken, projectID := acct.Credentials()
		envelope := upstream.BuildEnvelope(projectID, payload)
		resp, callErr := d.client.Call(attemptCtx, method, accessToken, envelope, stream)

		if callErr != nil {
			if cancel != nil {
				cancel()
			}
			acct.Release()
			if ctx.Err() != nil {
				return nil, errors.NewStreamAbortedError(ctx.Err())
			}
			d.logger.Warn("upstream call failed", map[string]interface{}{
				"email":   acct.Email,
				"attempt": attempt,
				"error":   callErr.Error(),
			})
			excluded[acct.ID] = true
			lastErr = errors.NewTransientError("upstream request failed", callErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.logger.Info("dispatched to account", map[string]interface{}{
				"email":   acct.Email,
				"model":   payload.Model,
				"attempt": attempt,
			})
			return &Result{
				Response: resp,
				Account:  acct,
				Attempts: attempt,
				pool:     d.pool,
				cancel:   cancel,
			}, nil
		}

		// 失败路径：读取错误体后关闭连接再分类
		body := readErrorBody(resp)
		if cancel != nil {
			cancel()
		}
		acct.Release()

		gerr := errors.NewUpstreamError(resp.StatusCode, body)
		lastErr = gerr

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			// 刷新成功则同一账号再试，失败则禁用后换号
			if refreshErr := d.refresher.Refresh(ctx, acct); refreshErr != nil {
				d.logger.Warn("auth expired and refresh failed, disabling account", map[string]interface{}{
					"email":   acct.Email,
					"attempt": attempt,
				})
				_ = d.pool.MarkDisabled(acct)
				excluded[acct.ID] = true
			} else {
				d.logger.Info("token refreshed, retrying same account", map[string]interface{}{
					"email":   acct.Email,
					"attempt": attempt,
				})
			}

		case http.StatusForbidden:
			d.logger.Warn("account forbidden by upstream", map[string]interface{}{
				"email":   acct.Email,
				"attempt": attempt,
			})
			_ = d.pool.MarkForbidden(acct)
			excluded[acct.ID] = true

		case http.StatusTooManyRequests:
			resetTime := time.Time{}
			if delay, ok := upstream.ParseRetryDelay(body); ok {
				resetTime = time.Now().Add(delay)
				if !d.sleep(ctx, upstream.RetryWait(delay)) {
					return nil, errors.NewStreamAbortedError(ctx.Err())
				}
			}
			d.logger.Warn("model quota exhausted on account", map[string]interface{}{
				"email":   acct.Email,
				"model":   payload.Model,
				"attempt": attempt,
			})
			_ = d.pool.MarkQuotaExhausted(acct, payload.Model, resetTime)
			excluded[acct.ID] = true

		case http.StatusNotFound:
			// 配置类错误，换号无意义，立即失败
			d.logger.Error("upstream returned 404, failing fast", gerr, map[string]interface{}{
				"model": payload.Model,
			})
			return nil, gerr

		case http.StatusInternalServerError:
			// 500线性退避
			if !d.sleep(ctx, time.Duration(attempt)*500*time.Millisecond) {
				return nil, errors.NewStreamAbortedError(ctx.Err())
			}
			excluded[acct.ID] = true

		case http.StatusServiceUnavailable, 529:
			// 过载指数退避
			backoff := 500 * time.Millisecond << uint(attempt-1)
			if delay, ok := upstream.ParseRetryDelay(body); ok {
				backoff = upstream.RetryWait(delay)
			}
			if !d.sleep(ctx, backoff) {
				return nil, errors.NewStreamAbortedError(ctx.Err())
			}
			excluded[acct.ID] = true

		default:
			if resp.StatusCode >= 500 {
				excluded[acct.ID] = true
				continue
			}
			// 其余4xx属请求本身问题，重试无意义
			return nil, gerr
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.NewPoolExhaustedError("all dispatch attempts exhausted")
}

// sleep 可被取消的等待，返回false表示ctx已取消
func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return true
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
