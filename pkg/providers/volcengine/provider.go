package volcengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/volcengine/volcengine-go-sdk/service/vpc"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
	"github.com/volcengine/volcengine-go-sdk/volcengine/credentials"
	"github.com/volcengine/volcengine-go-sdk/volcengine/session"

	"github.com/reckless-huang/updatesg/pkg/types"
)

// Name 云服务商标识
const Name = "volcengine"

const (
	defaultRegion    = "cn-beijing"
	directionIngress = "ingress"
	policyAccept     = "accept"
	pageSize         = 100
)

// vpcAPI 是 Provider 用到的 VPC 接口子集
type vpcAPI interface {
	DescribeSecurityGroups(input *vpc.DescribeSecurityGroupsInput) (*vpc.DescribeSecurityGroupsOutput, error)
	DescribeSecurityGroupAttributes(input *vpc.DescribeSecurityGroupAttributesInput) (*vpc.DescribeSecurityGroupAttributesOutput, error)
	AuthorizeSecurityGroupIngress(input *vpc.AuthorizeSecurityGroupIngressInput) (*vpc.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(input *vpc.RevokeSecurityGroupIngressInput) (*vpc.RevokeSecurityGroupIngressOutput, error)
}

// Provider 实现火山引擎的安全组操作
type Provider struct {
	vpcClient vpcAPI
	region    string
}

var _ types.SecurityGroupProvider = &Provider{}

// NewProvider 创建火山云提供商实例
func NewProvider(config types.SecurityGroupConfig) (*Provider, error) {
	accessKey := config.Credential["access_key_id"]
	secretKey := config.Credential["access_key_secret"]
	if accessKey == "" || secretKey == "" {
		return nil, types.NewClientInitError(Name, fmt.Errorf("access_key_id and access_key_secret are required"))
	}
	// 设置默认地域为cn-beijing
	region := defaultRegion
	if config.Region != "" {
		region = config.Region
	}

	cfg := volcengine.NewConfig().
		WithRegion(region).
		WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, types.NewClientInitError(Name, err)
	}

	vpcClient := vpc.New(sess)
	if vpcClient == nil {
		return nil, types.NewClientInitError(Name, fmt.Errorf("create volcengine vpc client failed"))
	}
	return newProvider(vpcClient, region), nil
}

func newProvider(client vpcAPI, region string) *Provider {
	return &Provider{
		vpcClient: client,
		region:    region,
	}
}

// ListSecurityGroups 按标签获取安全组列表
func (p *Provider) ListSecurityGroups(ctx context.Context, filter types.TagFilter) ([]types.SecurityGroup, error) {
	log := clog.FromContext(ctx)

	input := &vpc.DescribeSecurityGroupsInput{
		PageSize: volcengine.Int64(pageSize),
		TagFilters: []*vpc.TagFilterForDescribeSecurityGroupsInput{{
			Key:    volcengine.String(filter.Key),
			Values: volcengine.StringSlice([]string{filter.Value}),
		}},
	}

	res, err := p.vpcClient.DescribeSecurityGroups(input)
	if err != nil {
		return nil, fmt.Errorf("describe security groups failed: %w", err)
	}

	groups := make([]types.SecurityGroup, 0, len(res.SecurityGroups))
	for _, g := range res.SecurityGroups {
		group, err := p.getSecurityGroup(volcengine.StringValue(g.SecurityGroupId))
		if err != nil {
			return nil, err
		}
		groups = append(groups, *group)
	}

	log.Debug("described security groups", "filter", filter.String(), "region", p.region, "count", len(groups))
	return groups, nil
}

// getSecurityGroup 获取安全组详情及入方向规则
func (p *Provider) getSecurityGroup(groupID string) (*types.SecurityGroup, error) {
	res, err := p.vpcClient.DescribeSecurityGroupAttributes(&vpc.DescribeSecurityGroupAttributesInput{
		SecurityGroupId: volcengine.String(groupID),
	})
	if err != nil {
		return nil, fmt.Errorf("describe security group attributes failed: %w", err)
	}

	group := &types.SecurityGroup{
		GroupID:     groupID,
		Name:        volcengine.StringValue(res.SecurityGroupName),
		Description: volcengine.StringValue(res.Description),
		VpcID:       volcengine.StringValue(res.VpcId),
	}
	for _, permission := range res.Permissions {
		// 跳过源安全组规则和出方向规则
		if volcengine.StringValue(permission.SourceGroupId) != "" {
			continue
		}
		if volcengine.StringValue(permission.Direction) != directionIngress {
			continue
		}
		group.Permissions = append(group.Permissions, types.IngressPermission{
			Protocol: strings.ToLower(volcengine.StringValue(permission.Protocol)),
			FromPort: int32(volcengine.Int64Value(permission.PortStart)),
			ToPort:   int32(volcengine.Int64Value(permission.PortEnd)),
			Ranges: []types.IPRange{{
				CIDR:  volcengine.StringValue(permission.CidrIp),
				Label: types.RuleLabel(volcengine.StringValue(permission.Description)),
			}},
		})
	}
	return group, nil
}

// AuthorizeIngress 添加入方向规则
func (p *Provider) AuthorizeIngress(ctx context.Context, groupID string, rule types.IngressRule) error {
	input := &vpc.AuthorizeSecurityGroupIngressInput{
		SecurityGroupId: volcengine.String(groupID),
		Protocol:        volcengine.String(rule.Protocol),
		PortStart:       volcengine.Int64(int64(rule.FromPort)),
		PortEnd:         volcengine.Int64(int64(rule.ToPort)),
		CidrIp:          volcengine.String(rule.CIDR),
		Policy:          volcengine.String(policyAccept),
		Priority:        volcengine.Int64(1),
		Description:     volcengine.String(rule.Label.String()),
	}

	clog.FromContext(ctx).Debug("Adding ingress rule",
		"group_id", groupID,
		"ip", rule.CIDR,
		"port", rule.PortRange(),
		"protocol", rule.Protocol,
		"description", rule.Label,
	)

	if _, err := p.vpcClient.AuthorizeSecurityGroupIngress(input); err != nil {
		return fmt.Errorf("add ingress rule failed: %w", err)
	}
	return nil
}

// RevokeIngress 撤销入方向规则
func (p *Provider) RevokeIngress(ctx context.Context, groupID string, rule types.IngressRule) error {
	input := &vpc.RevokeSecurityGroupIngressInput{
		SecurityGroupId: volcengine.String(groupID),
		Protocol:        volcengine.String(rule.Protocol),
		PortStart:       volcengine.Int64(int64(rule.FromPort)),
		PortEnd:         volcengine.Int64(int64(rule.ToPort)),
		CidrIp:          volcengine.String(rule.CIDR),
		Policy:          volcengine.String(policyAccept),
		Priority:        volcengine.Int64(1),
	}

	clog.FromContext(ctx).Debug("Removing ingress rule",
		"group_id", groupID,
		"ip", rule.CIDR,
		"port", rule.PortRange(),
		"protocol", rule.Protocol,
	)

	if _, err := p.vpcClient.RevokeSecurityGroupIngress(input); err != nil {
		return fmt.Errorf("remove ingress rule failed: %w", err)
	}
	return nil
}
