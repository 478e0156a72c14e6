package agent

import (
	"strconv"
	"strings"

	"BNBChain-AgentKit/internal/a2a"
	"BNBChain-AgentKit/internal/chains"
	"BNBChain-AgentKit/internal/config"
	"BNBChain-AgentKit/internal/erc8004"
)

var skillDescriptions = map[string]string{
	"chat":               "Conversational answers about BNB Chain, ERC-8004 and x402.",
	"analysis":           "Analysis of on-chain data and agent activity.",
	"on-chain-execution": "Reports live chain status and the agent's on-chain identity.",
}

func buildCard(cfg *config.Config, chain chains.Chain, identity *erc8004.AgentIdentity, streaming bool) a2a.AgentCard {
	card := a2a.AgentCard{
		Name:        cfg.Agent.Name,
		Description: cfg.Agent.Description,
		URL:         cfg.Server.PublicURL() + a2a.RPCPath,
		Version:     cfg.Agent.Version,
		Capabilities: a2a.Capabilities{
			Streaming:              streaming,
			PushNotifications:      true,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text", "data"},
		DefaultOutputModes: []string{"text", "data"},
	}
	for _, capability := range cfg.Agent.Capabilities {
		id := strings.TrimSpace(capability)
		if id == "" {
			continue
		}
		desc := skillDescriptions[id]
		if desc == "" {
			desc = id
		}
		card.Skills = append(card.Skills, a2a.Skill{
			ID:          id,
			Name:        skillName(id),
			Description: desc,
			Tags:        []string{"bnb-chain", chain.Key},
		})
	}
	if cfg.Agent.Organization != "" {
		card.Provider = &a2a.Provider{Organization: cfg.Agent.Organization, URL: cfg.Server.PublicURL()}
	}
	if len(cfg.Auth.Tokens) > 0 {
		card.Authentication = &a2a.Authentication{Schemes: []string{"bearer"}}
	}
	if identity != nil {
		card.ERC8004 = &a2a.ERC8004Extension{
			AgentID:       identity.AgentID,
			Chain:         chain.Key,
			AgentRegistry: chain.AgentRegistry,
			X402Support:   cfg.X402.Enabled,
			TrustModels:   append([]string{}, cfg.Agent.TrustModels...),
		}
	}
	return card
}

// skillName turns "on-chain-execution" into "On Chain Execution".
func skillName(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }
