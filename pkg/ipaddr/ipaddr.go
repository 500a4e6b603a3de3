package ipaddr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/user"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	hostSuffix = "/32"

	// DefaultServiceURL 返回调用方公网 IP 的纯文本服务
	DefaultServiceURL = "https://ifconfig.me"
)

// FormatCIDR 为地址追加 /32，已带 /32 的地址原样返回
func FormatCIDR(ip string) string {
	if strings.HasSuffix(ip, hostSuffix) {
		return ip
	}
	return ip + hostSuffix
}

// Discoverer 通过外部服务获取本机公网 IP
type Discoverer struct {
	URL    string
	Client *http.Client
}

// NewDiscoverer 使用默认服务地址
func NewDiscoverer() *Discoverer {
	return &Discoverer{
		URL:    DefaultServiceURL,
		Client: http.DefaultClient,
	}
}

// Discover 获取本地公网IP，返回内容不做校验
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	// 以 curl 身份请求，服务才会返回纯文本
	req.Header.Set("User-Agent", "curl/7.68.0")
	req.Header.Set("Accept", "*/*")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get public IP failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("get public IP failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read IP failed: %w", err)
	}

	return strings.TrimSpace(string(body)), nil
}

type userEnv struct {
	LogName  string `env:"LOGNAME"`
	User     string `env:"USER"`
	LName    string `env:"LNAME"`
	UserName string `env:"USERNAME"`
}

// CurrentUser 按 LOGNAME、USER、LNAME、USERNAME 的顺序取用户名，都未设置时查询系统账户。
// environ 为 nil 时读取进程环境变量
func CurrentUser(environ map[string]string) (string, error) {
	var e userEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return "", fmt.Errorf("read user environment failed: %w", err)
	}
	for _, name := range []string{e.LogName, e.User, e.LName, e.UserName} {
		if name != "" {
			return name, nil
		}
	}

	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("lookup current user failed: %w", err)
	}
	return u.Username, nil
}
