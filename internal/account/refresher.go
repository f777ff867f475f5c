package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTokenURL = "https://oauth2.googleapis.com/token"

// OAuthRefresher 用refresh token换取新的access token。
// 完整的授权流程由外部凭证采集器负责，这里只做到期续签
type OAuthRefresher struct {
	client       *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	store        *Store
}

func NewOAuthRefresher(client *http.Client, tokenURL, clientID, clientSecret string, store *Store) *OAuthRefresher {
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &OAuthRefresher{
		client:       client,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		store:        store,
	}
}

// Refresh 刷新账号token并持久化。错误信息不携带任何凭证内容
func (r *OAuthRefresher) Refresh(ctx context.Context, account *Account) error {
	if !account.Refreshable() {
		return fmt.Errorf("account %s has no refresh token", account.Email)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshToken)
	if r.clientID != "" {
		form.Set("client_id", r.clientID)
	}
	if r.clientSecret != "" {
		form.Set("client_secret", r.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh failed for %s: HTTP %d", account.Email, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("token refresh response decode failed: %v", err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("token refresh for %s returned no access token", account.Email)
	}

	expiry := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	account.UpdateTokens(result.AccessToken, expiry)

	if r.store != nil {
		return r.store.SaveAccount(account)
	}
	return nil
}
