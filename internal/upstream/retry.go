package upstream

import (
	"encoding/json"
	"time"
)

// 重试等待的缓冲与上限
const (
	retryDelayBuffer = 200 * time.Millisecond
	retryDelayCap    = 10 * time.Second
)

// ParseRetryDelay 从上游错误体中解析建议的重试等待时间。
// 依次检查error.retryInfo.retryDelay、error.quotaResetDelay和
// error.details内的RetryInfo条目，时长格式如"1.5s"、"200ms"、
// "1h16m0.667s"
func ParseRetryDelay(errorText string) (time.Duration, bool) {
	var body struct {
		Error struct {
			RetryInfo struct {
				RetryDelay string `json:"retryDelay"`
			} `json:"retryInfo"`
			QuotaResetDelay string `json:"quotaResetDelay"`
			Details         []struct {
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(errorText), &body); err != nil {
		return 0, false
	}

	candidates := []string{
		body.Error.RetryInfo.RetryDelay,
		body.Error.QuotaResetDelay,
	}
	for _, d := range body.Error.Details {
		candidates = append(candidates, d.RetryDelay)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if delay, err := time.ParseDuration(candidate); err == nil && delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

// RetryWait 给解析出的等待时间加缓冲并限制上限
func RetryWait(delay time.Duration) time.Duration {
	wait := delay + retryDelayBuffer
	if wait > retryDelayCap {
		wait = retryDelayCap
	}
	return wait
}
