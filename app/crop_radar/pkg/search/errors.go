package search

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// 搜索服务错误的类别，调用方用 errors.Is 区分
var (
	// ErrQuotaExceeded 配额耗尽或被限流，不能当作"没有结果"
	ErrQuotaExceeded = errors.New("search quota exceeded")
	// ErrUnavailable 网络错误或服务端 5xx，可以重试
	ErrUnavailable = errors.New("search provider unavailable")
	// ErrRejected 其他 4xx，重试无意义
	ErrRejected = errors.New("search request rejected")
)

// ProviderError 搜索服务返回的错误
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       error
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&sb, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap 同时暴露错误类别和底层错误
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable 只有瞬时错误值得重试
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// StatusError 把 HTTP 状态码映射为 ProviderError
func StatusError(provider string, status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}

	kind := ErrRejected
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusPaymentRequired:
		kind = ErrQuotaExceeded
	case status >= http.StatusInternalServerError:
		kind = ErrUnavailable
	case strings.Contains(strings.ToLower(msg), "quota"), strings.Contains(strings.ToLower(msg), "credits"):
		kind = ErrQuotaExceeded
	}
	return &ProviderError{Provider: provider, StatusCode: status, Kind: kind, Body: msg}
}

// TransportError 包装网络层错误
func TransportError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrUnavailable, Err: err}
}
