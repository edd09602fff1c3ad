package openai

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultBaseURL 未配置 base_url 时使用的官方端点。
const DefaultBaseURL = "https://api.openai.com/v1"

// CheckReachable 只做 TCP 连通性检查，不发送任何请求；baseURL 为空时检查官方端点。
func CheckReachable(ctx context.Context, baseURL string) error {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	parsed, err := url.Parse(normalizeBaseURL(raw))
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", baseURL, err)
	}
	host := parsed.Hostname()
	if parsed.Scheme == "" || host == "" {
		return fmt.Errorf("invalid base_url %q: scheme=%q host=%q", baseURL, parsed.Scheme, parsed.Host)
	}

	port := parsed.Port()
	if port == "" {
		switch strings.ToLower(parsed.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return fmt.Errorf("unsupported base_url scheme %q", parsed.Scheme)
		}
	}

	addr := net.JoinHostPort(host, port)
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot connect to %s: %w", addr, err)
	}
	return conn.Close()
}
