package aliyun

import (
	"context"
	"fmt"
	"strings"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/ecs"
	"github.com/chainguard-dev/clog"

	"github.com/reckless-huang/updatesg/pkg/types"
)

// Name 云服务商标识
const Name = "aliyun"

const (
	directionIngress = "ingress"
	policyAccept     = "accept"
	nicTypeIntranet  = "intranet"
	pageSize         = 50
)

// ecsAPI 是 Provider 用到的 ECS 接口子集
type ecsAPI interface {
	DescribeSecurityGroups(request *ecs.DescribeSecurityGroupsRequest) (*ecs.DescribeSecurityGroupsResponse, error)
	DescribeSecurityGroupAttribute(request *ecs.DescribeSecurityGroupAttributeRequest) (*ecs.DescribeSecurityGroupAttributeResponse, error)
	AuthorizeSecurityGroup(request *ecs.AuthorizeSecurityGroupRequest) (*ecs.AuthorizeSecurityGroupResponse, error)
	RevokeSecurityGroup(request *ecs.RevokeSecurityGroupRequest) (*ecs.RevokeSecurityGroupResponse, error)
}

// Provider 实现阿里云的安全组操作
type Provider struct {
	client ecsAPI
	region string
}

var _ types.SecurityGroupProvider = &Provider{}

// NewProvider 创建阿里云 Provider 实例
func NewProvider(config types.SecurityGroupConfig) (*Provider, error) {
	// 只检查认证信息
	if config.Credential["access_key_id"] == "" || config.Credential["access_key_secret"] == "" {
		return nil, types.NewClientInitError(Name, fmt.Errorf("access key and secret key are required"))
	}
	if config.Region == "" {
		return nil, types.NewClientInitError(Name, fmt.Errorf("region is required"))
	}

	client, err := ecs.NewClientWithAccessKey(
		config.Region,
		config.Credential["access_key_id"],
		config.Credential["access_key_secret"],
	)
	if err != nil {
		return nil, types.NewClientInitError(Name, err)
	}

	return newProvider(client, config.Region), nil
}

func newProvider(client ecsAPI, region string) *Provider {
	return &Provider{
		client: client,
		region: region,
	}
}

// ListSecurityGroups 按标签获取安全组列表，并补充每个安全组的入方向规则
func (p *Provider) ListSecurityGroups(ctx context.Context, filter types.TagFilter) ([]types.SecurityGroup, error) {
	log := clog.FromContext(ctx)

	request := ecs.CreateDescribeSecurityGroupsRequest()
	request.RegionId = p.region
	request.PageSize = requests.NewInteger(pageSize)
	request.Tag = &[]ecs.DescribeSecurityGroupsTag{{
		Key:   filter.Key,
		Value: filter.Value,
	}}

	response, err := p.client.DescribeSecurityGroups(request)
	if err != nil {
		return nil, fmt.Errorf("list security groups failed: %w", err)
	}

	groups := make([]types.SecurityGroup, 0, len(response.SecurityGroups.SecurityGroup))
	for _, g := range response.SecurityGroups.SecurityGroup {
		permissions, err := p.listIngress(g.SecurityGroupId)
		if err != nil {
			return nil, err
		}
		groups = append(groups, types.SecurityGroup{
			GroupID:     g.SecurityGroupId,
			Name:        g.SecurityGroupName,
			Description: g.Description,
			VpcID:       g.VpcId,
			Permissions: permissions,
		})
	}

	log.Debug("described security groups", "filter", filter.String(), "region", p.region, "count", len(groups))
	return groups, nil
}

// listIngress 获取安全组入方向规则，每条规则作为一个权限块
func (p *Provider) listIngress(groupID string) ([]types.IngressPermission, error) {
	request := ecs.CreateDescribeSecurityGroupAttributeRequest()
	request.SecurityGroupId = groupID
	request.RegionId = p.region
	request.Direction = directionIngress

	response, err := p.client.DescribeSecurityGroupAttribute(request)
	if err != nil {
		return nil, fmt.Errorf("list security group rules failed: %w", err)
	}

	permissions := make([]types.IngressPermission, 0, len(response.Permissions.Permission))
	for _, r := range response.Permissions.Permission {
		if r.Direction != "" && r.Direction != directionIngress {
			continue
		}
		from, to := parsePortRange(r.PortRange)
		permissions = append(permissions, types.IngressPermission{
			Protocol: strings.ToLower(r.IpProtocol),
			FromPort: from,
			ToPort:   to,
			Ranges: []types.IPRange{{
				CIDR:  r.SourceCidrIp,
				Label: types.RuleLabel(r.Description),
			}},
		})
	}
	return permissions, nil
}

// AuthorizeIngress 添加安全组规则
func (p *Provider) AuthorizeIngress(ctx context.Context, groupID string, rule types.IngressRule) error {
	request := ecs.CreateAuthorizeSecurityGroupRequest()
	request.RegionId = p.region
	request.SecurityGroupId = groupID
	request.NicType = nicTypeIntranet
	request.IpProtocol = rule.Protocol
	request.PortRange = rule.PortRange()
	request.SourceCidrIp = rule.CIDR
	request.Policy = policyAccept
	request.Description = rule.Label.String()

	clog.FromContext(ctx).Debug("AuthorizeSecurityGroup",
		"region", request.RegionId,
		"group", request.SecurityGroupId,
		"protocol", request.IpProtocol,
		"port", request.PortRange,
		"ip", request.SourceCidrIp,
		"desc", request.Description,
	)

	if _, err := p.client.AuthorizeSecurityGroup(request); err != nil {
		return fmt.Errorf("add security group rule failed: %w", err)
	}
	return nil
}

// RevokeIngress 删除安全组规则
func (p *Provider) RevokeIngress(ctx context.Context, groupID string, rule types.IngressRule) error {
	request := ecs.CreateRevokeSecurityGroupRequest()
	request.RegionId = p.region
	request.SecurityGroupId = groupID
	request.NicType = nicTypeIntranet
	request.IpProtocol = rule.Protocol
	request.PortRange = rule.PortRange()
	request.SourceCidrIp = rule.CIDR
	request.Policy = policyAccept

	clog.FromContext(ctx).Debug("RevokeSecurityGroup",
		"region", request.RegionId,
		"group", request.SecurityGroupId,
		"port", request.PortRange,
		"ip", request.SourceCidrIp,
	)

	if _, err := p.client.RevokeSecurityGroup(request); err != nil {
		return fmt.Errorf("remove security group rule failed: %w", err)
	}
	return nil
}

// parsePortRange 解析 "22/22" 形式的端口范围，-1/-1 表示所有端口
func parsePortRange(portRange string) (int32, int32) {
	var from, to int32
	n, _ := fmt.Sscanf(portRange, "%d/%d", &from, &to)
	if n == 1 {
		to = from
	}
	return from, to
}
