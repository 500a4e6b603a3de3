// Package sshaccess keeps one SSH ingress rule per label on a tagged security group.
//
// The label (the rule description) is the identity of a rule: adding a rule first
// revokes whatever CIDR currently carries the same label. The remove-then-add sequence
// is not atomic, so two concurrent runs for the same label can leave zero or two rules.
package sshaccess

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/samber/lo"

	"github.com/reckless-huang/updatesg/pkg/config"
	"github.com/reckless-huang/updatesg/pkg/ipaddr"
	"github.com/reckless-huang/updatesg/pkg/types"
)

// Manager 管理安全组上的 SSH 规则
type Manager struct {
	provider    types.SecurityGroupProvider
	settings    *config.Config
	discover    func(ctx context.Context) (string, error)
	currentUser func() (string, error)
}

// Option 定制 Manager
type Option func(*Manager)

// WithDiscover 替换公网 IP 的获取方式
func WithDiscover(fn func(ctx context.Context) (string, error)) Option {
	return func(m *Manager) {
		m.discover = fn
	}
}

// WithCurrentUser 替换当前用户名的获取方式
func WithCurrentUser(fn func() (string, error)) Option {
	return func(m *Manager) {
		m.currentUser = fn
	}
}

// NewManager 创建 Manager，默认通过 ifconfig.me 获取公网 IP，用系统用户名作为规则描述
func NewManager(provider types.SecurityGroupProvider, settings *config.Config, opts ...Option) *Manager {
	if settings == nil {
		settings = config.Default()
	}
	m := &Manager{
		provider: provider,
		settings: settings,
		discover: ipaddr.NewDiscoverer().Discover,
		currentUser: func() (string, error) {
			return ipaddr.CurrentUser(nil)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddResult 描述一次添加操作的结果
type AddResult struct {
	Group    types.SecurityGroup
	Added    types.IngressRule
	Replaced *types.IngressRule
}

// RemoveResult 描述一次删除操作的结果
type RemoveResult struct {
	Group   types.SecurityGroup
	Removed types.IngressRule
}

// ResolveIPAddress 优先使用配置文件中的 IP，未配置时才查询公网 IP
func (m *Manager) ResolveIPAddress(ctx context.Context) (string, error) {
	if m.settings.HasIPAddress() {
		return m.settings.IPAddress, nil
	}
	ip, err := m.discover(ctx)
	if err != nil {
		return "", err
	}
	clog.FromContext(ctx).Debug("discovered public IP", "ip", ip)
	return ip, nil
}

// ResolveLabel 优先使用配置文件中的描述，未配置时使用当前用户名
func (m *Manager) ResolveLabel() (types.RuleLabel, error) {
	if m.settings.HasDescription() {
		return types.RuleLabel(m.settings.Description), nil
	}
	name, err := m.currentUser()
	if err != nil {
		return "", err
	}
	return types.RuleLabel(name), nil
}

// FindSecurityGroup 返回第一个标签匹配的安全组，没有匹配时返回 ErrSecurityGroupNotFound
func (m *Manager) FindSecurityGroup(ctx context.Context) (*types.SecurityGroup, error) {
	filter := m.tagFilter()
	groups, err := m.provider.ListSecurityGroups(ctx, filter)
	if err != nil {
		return nil, err
	}

	group, ok := lo.First(groups)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSecurityGroupNotFound, filter)
	}
	if len(groups) > 1 {
		clog.FromContext(ctx).Warn("multiple security groups match, using the first",
			"filter", filter.String(), "count", len(groups), "group_id", group.GroupID)
	}
	return &group, nil
}

// Add 授权当前 IP 访问 SSH，同标签的旧规则会先被撤销
func (m *Manager) Add(ctx context.Context) (*AddResult, error) {
	log := clog.FromContext(ctx)

	ip, err := m.ResolveIPAddress(ctx)
	if err != nil {
		return nil, err
	}
	label, err := m.ResolveLabel()
	if err != nil {
		return nil, err
	}

	group, err := m.FindSecurityGroup(ctx)
	if err != nil {
		return nil, err
	}

	result := &AddResult{
		Group: *group,
		Added: types.SSHRule(ipaddr.FormatCIDR(ip), label),
	}

	replaced, ok := lo.Find(sshRules(group), func(r types.IngressRule) bool {
		return r.Label == label
	})
	if ok {
		log.Info("Removing previous rule", "group_id", group.GroupID, "protocol", replaced.Protocol,
			"port", replaced.PortRange(), "cidr", replaced.CIDR, "description", label)
		if err := m.provider.RevokeIngress(ctx, group.GroupID, replaced); err != nil {
			return nil, err
		}
		result.Replaced = &replaced
	}

	log.Info("Authorizing rule", "group_id", group.GroupID, "cidr", result.Added.CIDR, "description", label)
	if err := m.provider.AuthorizeIngress(ctx, group.GroupID, result.Added); err != nil {
		return nil, err
	}
	return result, nil
}

// Remove 撤销指定 IP 的 SSH 规则，ip 为空时按配置或公网 IP 解析
func (m *Manager) Remove(ctx context.Context, ip string) (*RemoveResult, error) {
	if ip == "" {
		var err error
		if ip, err = m.ResolveIPAddress(ctx); err != nil {
			return nil, err
		}
	}

	group, err := m.FindSecurityGroup(ctx)
	if err != nil {
		return nil, err
	}

	rule := types.SSHRule(ipaddr.FormatCIDR(ip), "")
	clog.FromContext(ctx).Info("Revoking rule", "group_id", group.GroupID, "cidr", rule.CIDR)
	if err := m.provider.RevokeIngress(ctx, group.GroupID, rule); err != nil {
		return nil, err
	}
	return &RemoveResult{Group: *group, Removed: rule}, nil
}

// ListRules 列出安全组上的 SSH 规则
func (m *Manager) ListRules(ctx context.Context) (*types.SecurityGroup, []types.IngressRule, error) {
	group, err := m.FindSecurityGroup(ctx)
	if err != nil {
		return nil, nil, err
	}
	return group, sshRules(group), nil
}

// ListSecurityGroups 列出所有标签匹配的安全组
func (m *Manager) ListSecurityGroups(ctx context.Context) ([]types.SecurityGroup, error) {
	return m.provider.ListSecurityGroups(ctx, m.tagFilter())
}

func (m *Manager) tagFilter() types.TagFilter {
	filter := m.settings.TagFilter()
	if filter.Key == "" {
		filter.Key = types.DefaultTagKey
	}
	return filter
}

// sshRules 展开起始端口为 22 的权限块中的网段，规则沿用所在权限块的协议和端口范围，
// 没有这样的权限块时返回空
func sshRules(group *types.SecurityGroup) []types.IngressRule {
	blocks := lo.Filter(group.Permissions, func(p types.IngressPermission, _ int) bool {
		return p.FromPort == types.SSHPort
	})
	return lo.FlatMap(blocks, func(p types.IngressPermission, _ int) []types.IngressRule {
		return lo.Map(p.Ranges, func(r types.IPRange, _ int) types.IngressRule {
			return types.IngressRule{
				Protocol: p.Protocol,
				FromPort: p.FromPort,
				ToPort:   p.ToPort,
				CIDR:     r.CIDR,
				Label:    r.Label,
			}
		})
	})
}
