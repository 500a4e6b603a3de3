package providers

import (
	"context"
	"fmt"

	"github.com/reckless-huang/updatesg/pkg/providers/aliyun"
	"github.com/reckless-huang/updatesg/pkg/providers/amazon"
	"github.com/reckless-huang/updatesg/pkg/providers/volcengine"
	"github.com/reckless-huang/updatesg/pkg/types"
)

const (
	AWS        = amazon.Name
	ALIYUN     = aliyun.Name
	VOLCENGINE = volcengine.Name
)

// Names 支持的云服务商
var Names = []string{AWS, ALIYUN, VOLCENGINE}

// New 根据配置创建对应的云服务商实现
func New(ctx context.Context, config types.SecurityGroupConfig) (types.SecurityGroupProvider, error) {
	switch config.Provider {
	case AWS, "":
		return amazon.NewProvider(ctx, config)
	case ALIYUN:
		return aliyun.NewProvider(config)
	case VOLCENGINE:
		return volcengine.NewProvider(config)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrProviderNotFound, config.Provider)
	}
}
