package types

import "context"

// SecurityGroupProvider 定义云服务商的安全组操作
type SecurityGroupProvider interface {
	// ListSecurityGroups 按标签查询安全组，结果包含入方向权限
	ListSecurityGroups(ctx context.Context, filter TagFilter) ([]SecurityGroup, error)

	// AuthorizeIngress 添加一条入方向规则
	AuthorizeIngress(ctx context.Context, groupID string, rule IngressRule) error

	// RevokeIngress 撤销一条入方向规则
	RevokeIngress(ctx context.Context, groupID string, rule IngressRule) error
}
