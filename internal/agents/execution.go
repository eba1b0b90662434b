package agents

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/nonce"
	"AgentFi-Mesh/internal/web3/provider"
	"AgentFi-Mesh/internal/workflow"
	"AgentFi-Mesh/pkg/logger"
)

// TxSubmitter 把已规划好的交易提交到链上并返回交易哈希。
// 这是 nonce 生命周期与链交互之间的接缝：测试用假实现，
// 线上用 RegistrySubmitter。
type TxSubmitter interface {
	Submit(ctx context.Context, chain, address string, n uint64, plan map[string]any) (string, error)
}

// ExecutionHandler 处理 execution 能力：向 nonce 管理器申请槽位，
// 提交交易，按结果确认或释放。nonce 的确认/释放路径是互斥的：
// 广播成功走 Confirm，广播前失败走 Release。
type ExecutionHandler struct {
	nonces    *nonce.Manager
	submitter TxSubmitter
	chain     string
	address   string
	logger    *slog.Logger
}

// NewExecutionHandler 构造 ExecutionHandler。
// chain 与 address 是缺省签名身份，可被运行入参覆盖。
func NewExecutionHandler(nonces *nonce.Manager, submitter TxSubmitter, chain, address string) *ExecutionHandler {
	return &ExecutionHandler{
		nonces:    nonces,
		submitter: submitter,
		chain:     chain,
		address:   address,
		logger:    logger.Named("execution"),
	}
}

// Handle 实现 Handler。
func (h *ExecutionHandler) Handle(ctx context.Context, step workflow.StepDef, input map[string]any) (*workflow.AgentResult, error) {
	chain, address := h.chain, h.address
	if params, ok := input["params"].(map[string]any); ok {
		if v, ok := params["chain"].(string); ok && v != "" {
			chain = v
		}
		if v, ok := params["address"].(string); ok && v != "" {
			address = v
		}
	}
	if chain == "" || address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "执行步骤缺少链或签名地址")
	}

	n := h.nonces.NextNonce(ctx, chain, address)

	txHash, err := h.submitter.Submit(ctx, chain, address, n, input)
	if err != nil {
		// 广播前失败，槽位必须归还，否则会留下永久空洞。
		h.nonces.ReleaseNonce(chain, address, n)
		h.logger.Warn("交易提交失败，nonce 已释放",
			slog.Any("error", err),
			slog.String("chain", chain),
			slog.String("address", address),
			slog.Uint64("nonce", n))
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "交易提交失败")
	}

	h.nonces.ConfirmNonce(chain, address, n)
	h.logger.Info("交易已广播",
		slog.String("chain", chain),
		slog.String("tx_hash", txHash),
		slog.Uint64("nonce", n))

	return &workflow.AgentResult{
		Success: true,
		Output:  fmt.Sprintf("交易 %s 已广播，nonce=%d", txHash, n),
		Data: map[string]any{
			"tx_hash": txHash,
			"nonce":   n,
			"chain":   chain,
			"address": address,
			"action":  step.Action,
		},
		ToolsUsed: []string{"tx_submitter"},
	}, nil
}

// RegistrySubmitter 通过链客户端注册表广播已签名的原始交易。
// 签名在客户端或上游 agent 完成，plan 中必须携带 raw_tx。
type RegistrySubmitter struct {
	registry *provider.Registry
}

// NewRegistrySubmitter 构造 RegistrySubmitter。
func NewRegistrySubmitter(registry *provider.Registry) *RegistrySubmitter {
	return &RegistrySubmitter{registry: registry}
}

// Submit 实现 TxSubmitter。
func (s *RegistrySubmitter) Submit(ctx context.Context, chain, _ string, _ uint64, plan map[string]any) (string, error) {
	client, ok := s.registry.Client(chain)
	if !ok {
		return "", xerrors.Newf(xerrors.CodeNotFound, "链 %s 未注册", chain)
	}

	raw, _ := plan["raw_tx"].(string)
	if params, ok := plan["params"].(map[string]any); ok && raw == "" {
		raw, _ = params["raw_tx"].(string)
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "缺少已签名的原始交易 raw_tx")
	}
	payload, err := hex.DecodeString(raw)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "raw_tx 不是合法的十六进制")
	}
	return client.SendRawTransaction(ctx, payload)
}

// SimulatedSubmitter 本地模式的提交器：不触网，合成交易哈希。
type SimulatedSubmitter struct{}

// Submit 实现 TxSubmitter。
func (SimulatedSubmitter) Submit(_ context.Context, _, _ string, _ uint64, _ map[string]any) (string, error) {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

var (
	_ TxSubmitter = (*RegistrySubmitter)(nil)
	_ TxSubmitter = SimulatedSubmitter{}
	_ Handler     = (*ExecutionHandler)(nil)
)
