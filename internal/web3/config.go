package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 是 configs/chains.yaml 的结构化视图。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述单条链的接入端点。
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions 解析链配置文件并做基础校验。
// rpc_url 支持 ${ENV_VAR} 形式的环境变量引用，便于把节点
// 密钥放在环境而不是配置文件里。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}

	for name, chain := range defs.Chains {
		if strings.TrimSpace(name) == "" {
			return ChainDefinitions{}, fmt.Errorf("链配置包含空名称条目")
		}
		chain.RPCURL = os.ExpandEnv(strings.TrimSpace(chain.RPCURL))
		if chain.RPCURL == "" {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
		defs.Chains[name] = chain
	}
	return defs, nil
}
