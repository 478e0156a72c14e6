package agent

import (
	"context"
	"log/slog"

	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/config"
	"BNBChain-AgentKit/internal/erc8004"
	"BNBChain-AgentKit/internal/erc8004/contracts"
	"BNBChain-AgentKit/internal/web3"
)

// A2AServiceVersion is advertised in the registration file.
const A2AServiceVersion = "0.2.5"

// setupIdentity reuses the agent already owned by the configured key or
// registers a new one. In dev mode it returns nil without touching the
// chain.
func setupIdentity(ctx context.Context, cfg *config.Config, backend web3.Backend, chain chains.Chain, log *slog.Logger) (*erc8004.IdentityManager, *erc8004.AgentIdentity, error) {
	if cfg.Agent.DevMode() {
		log.Warn("未配置 PRIVATE_KEY，以开发模式运行，跳过链上注册")
		return nil, nil, nil
	}
	signer, err := contracts.NewSigner(cfg.Agent.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	manager, err := erc8004.NewIdentityManager(backend, chain, signer)
	if err != nil {
		return nil, nil, err
	}

	existing, err := manager.ExistingAgent(ctx)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		log.Info("复用已有链上身份",
			slog.Uint64("agent_id", existing.AgentID),
			slog.String("owner", existing.Owner),
			slog.String("chain", chain.Key),
		)
		return manager, existing, nil
	}
	if cfg.Agent.SkipRegistration {
		log.Warn("签名地址尚未注册智能体，且已配置跳过注册", slog.String("owner", manager.Address()))
		return manager, nil, nil
	}

	identity, err := manager.Register(ctx, registerParams(cfg))
	if err != nil {
		return nil, nil, err
	}
	log.Info("已在链上注册智能体",
		slog.Uint64("agent_id", identity.AgentID),
		slog.String("chain", chain.Key),
		slog.String("url", chain.TokenURL(itoa(identity.AgentID))),
	)
	return manager, identity, nil
}

func registerParams(cfg *config.Config) erc8004.RegisterParams {
	trust := make([]erc8004.TrustModel, 0, len(cfg.Agent.TrustModels))
	for _, m := range cfg.Agent.TrustModels {
		trust = append(trust, erc8004.TrustModel(m))
	}
	return erc8004.RegisterParams{
		Name:        cfg.Agent.Name,
		Description: cfg.Agent.Description,
		Image:       cfg.Agent.Image,
		Services: []erc8004.Service{
			{Name: "A2A", Endpoint: cfg.Server.PublicURL(), Version: A2AServiceVersion},
		},
		X402Support: cfg.X402.Enabled,
		Trust:       trust,
	}
}
