package workflow

// BuiltinTemplates 返回内置的五个 DeFi 工作流模板。
// 模板是纯数据，能力名与 agent 注册表中的 capability 对应。
func BuiltinTemplates() []Template {
	return []Template{
		{
			ID:          "safe_swap",
			Name:        "安全代币兑换",
			Description: "行情、风控、路由三方确认后执行兑换并验证回执。",
			Steps: []StepDef{
				{
					ID:         "market_data",
					Name:       "行情采集",
					Capability: "market_data",
					Action:     "fetch_price",
				},
				{
					ID:         "risk_assessment",
					Name:       "滑点与合约风险评估",
					Capability: "risk_assessment",
					Action:     "check_slippage",
					DependsOn:  []string{"market_data"},
				},
				{
					ID:         "smart_routing",
					Name:       "路由寻优",
					Capability: "smart_routing",
					Action:     "find_route",
					DependsOn:  []string{"market_data"},
				},
				{
					ID:         "execution",
					Name:       "链上执行",
					Capability: "execution",
					Action:     "execute_swap",
					DependsOn:  []string{"risk_assessment", "smart_routing"},
				},
				{
					ID:         "verification",
					Name:       "回执验证",
					Capability: "verification",
					Action:     "verify_receipt",
					DependsOn:  []string{"execution"},
				},
			},
		},
		{
			ID:          "emergency_deleverage",
			Name:        "紧急降杠杆",
			Description: "扫描濒临清算的仓位，生成还款计划并立即执行。",
			Steps: []StepDef{
				{
					ID:         "position_scan",
					Name:       "仓位扫描",
					Capability: "portfolio",
					Action:     "scan_positions",
				},
				{
					ID:         "risk_assessment",
					Name:       "清算距离评估",
					Capability: "risk_assessment",
					Action:     "assess_liquidation",
					DependsOn:  []string{"position_scan"},
				},
				{
					ID:         "deleverage_plan",
					Name:       "降杠杆计划",
					Capability: "liquidation_protection",
					Action:     "plan_deleverage",
					DependsOn:  []string{"risk_assessment"},
				},
				{
					ID:         "execution",
					Name:       "偿还与减仓",
					Capability: "execution",
					Action:     "repay_and_reduce",
					DependsOn:  []string{"deleverage_plan"},
				},
				{
					ID:         "alerting",
					Name:       "结果通报",
					Capability: "alerting",
					Action:     "notify_user",
					DependsOn:  []string{"execution"},
				},
			},
		},
		{
			ID:          "yield_hunt",
			Name:        "收益狩猎",
			Description: "并行扫描收益机会与协议尽调，按风险调整后择优配置。",
			Steps: []StepDef{
				{
					ID:         "market_data",
					Name:       "收益扫描",
					Capability: "market_data",
					Action:     "scan_yields",
				},
				{
					ID:         "research",
					Name:       "协议尽调",
					Capability: "research",
					Action:     "protocol_due_diligence",
				},
				{
					ID:         "yield_ranking",
					Name:       "风险调整排序",
					Capability: "yield_optimization",
					Action:     "rank_opportunities",
					DependsOn:  []string{"market_data", "research"},
				},
				{
					ID:         "execution",
					Name:       "资金配置",
					Capability: "execution",
					Action:     "allocate_funds",
					DependsOn:  []string{"yield_ranking"},
				},
			},
		},
		{
			ID:          "cross_chain_arb",
			Name:        "跨链套利",
			Description: "并行取两条链的报价，有价差时规划桥路由并执行。",
			Steps: []StepDef{
				{
					ID:         "price_source",
					Name:       "源链报价",
					Capability: "market_data",
					Action:     "fetch_price",
					Alias:      "source_quote",
				},
				{
					ID:         "price_target",
					Name:       "目标链报价",
					Capability: "market_data",
					Action:     "fetch_price",
					Alias:      "target_quote",
				},
				{
					ID:         "spread_analysis",
					Name:       "价差分析",
					Capability: "analysis",
					Action:     "compute_spread",
					DependsOn:  []string{"price_source", "price_target"},
				},
				{
					ID:         "bridge_routing",
					Name:       "桥路由规划",
					Capability: "smart_routing",
					Action:     "plan_bridge_route",
					DependsOn:  []string{"spread_analysis"},
				},
				{
					ID:         "execution",
					Name:       "双腿执行",
					Capability: "execution",
					Action:     "execute_arbitrage",
					DependsOn:  []string{"bridge_routing"},
				},
			},
		},
		{
			ID:          "portfolio_rebalance",
			Name:        "组合再平衡",
			Description: "读取持仓，计算目标权重，生成并执行最小成本调仓序列。",
			Steps: []StepDef{
				{
					ID:         "portfolio_read",
					Name:       "持仓读取",
					Capability: "portfolio",
					Action:     "read_holdings",
				},
				{
					ID:         "target_weights",
					Name:       "目标权重计算",
					Capability: "analysis",
					Action:     "compute_target_weights",
					DependsOn:  []string{"portfolio_read"},
				},
				{
					ID:         "trade_plan",
					Name:       "调仓序列规划",
					Capability: "smart_routing",
					Action:     "plan_trades",
					DependsOn:  []string{"target_weights"},
				},
				{
					ID:         "execution",
					Name:       "顺序执行",
					Capability: "execution",
					Action:     "execute_trades",
					DependsOn:  []string{"trade_plan"},
				},
				{
					ID:         "alerting",
					Name:       "调仓报告",
					Capability: "alerting",
					Action:     "send_report",
					DependsOn:  []string{"execution"},
				},
			},
		},
	}
}

// RegisterBuiltins 把内置模板注册到引擎。
func RegisterBuiltins(e *Engine) error {
	for _, t := range BuiltinTemplates() {
		if err := e.RegisterTemplate(t); err != nil {
			return err
		}
	}
	return nil
}
