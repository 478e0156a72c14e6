package validate

import (
	"fmt"
	"strings"
)

const (
	ecosystem       = "BNB Chain"
	addressPrefix   = "0x8004"
	minMainnetCount = 2
	minTestnetCount = 3
)

func checkMeta(r *Report, path string) {
	doc := readObject(r, path)
	if doc == nil {
		return
	}
	if _, ok := str(doc, "project"); !ok {
		r.add(path, "meta.project", "project must be a string")
	}
	if _, ok := doc["author"]; !ok {
		r.add(path, "meta.author", "author is required")
	}
	if eco, _ := str(doc, "ecosystem"); eco != ecosystem {
		r.add(path, "meta.ecosystem", "ecosystem must be %q, got %q", ecosystem, eco)
	}
	components, ok := doc["components"].([]any)
	if !ok {
		r.add(path, "meta.components", "components must be an array")
	} else {
		have := make(map[string]bool, len(components))
		for _, c := range components {
			if s, ok := c.(string); ok {
				have[s] = true
			}
		}
		for _, want := range []string{"agents", "mcp-servers"} {
			if !have[want] {
				r.add(path, "meta.components", "components must include %q", want)
			}
		}
	}
	for _, key := range []string{"agentCount", "mcpServerCount", "toolCount"} {
		if _, present := doc[key]; !present {
			continue
		}
		if _, ok := number(doc, key); !ok {
			r.add(path, "meta."+key, "%s must be a number", key)
		}
	}
}

// checkAddresses validates the bsc.address manifest of deployed registry
// contracts.
func checkAddresses(r *Report, path string) {
	doc := readObject(r, path)
	if doc == nil {
		return
	}
	if name, _ := str(doc, "projectName"); name == "" {
		r.add(path, "address.projectName", "projectName must be a non-empty string")
	}
	networks, _ := doc["networks"].([]any)
	if len(networks) == 0 {
		r.add(path, "address.networks", "networks must be a non-empty array")
		return
	}

	counts := map[string]int{}
	for i, n := range networks {
		network, ok := n.(map[string]any)
		if !ok {
			r.add(path, "address.networks", "networks[%d] must be an object", i)
			continue
		}
		name, _ := str(network, "name")
		contracts, _ := network["contracts"].([]any)
		for _, kind := range []string{"Mainnet", "Testnet"} {
			if strings.Contains(name, kind) {
				counts[kind] += len(contracts)
			}
		}
		for j, c := range contracts {
			checkContract(r, path, name, j, c)
		}
	}
	if counts["Mainnet"] < minMainnetCount {
		r.add(path, "address.mainnet", "found %d mainnet contracts, want at least %d", counts["Mainnet"], minMainnetCount)
	}
	if counts["Testnet"] < minTestnetCount {
		r.add(path, "address.testnet", "found %d testnet contracts, want at least %d", counts["Testnet"], minTestnetCount)
	}

	if tx, ok := object(doc, "firstTransaction"); ok {
		if h, _ := str(tx, "txHash"); h == "" {
			r.add(path, "address.firstTransaction", "firstTransaction.txHash must be a non-empty string")
		}
		if link, _ := str(tx, "explorerLink"); !strings.HasPrefix(link, "https://") {
			r.add(path, "address.firstTransaction", "firstTransaction.explorerLink must be an https URL")
		}
	}
}

func checkContract(r *Report, path, network string, idx int, v any) {
	c, ok := v.(map[string]any)
	if !ok {
		r.add(path, "address.contract", "%s contracts[%d] must be an object", network, idx)
		return
	}
	label, _ := str(c, "name")
	if label == "" {
		label = fmt.Sprintf("%s contracts[%d]", network, idx)
	}
	addr, ok := str(c, "address")
	switch {
	case !ok:
		r.add(path, "address.contract", "%s: address must be a string", label)
	case !strings.HasPrefix(addr, addressPrefix):
		r.add(path, "address.prefix", "%s: address %s does not start with %s", label, addr, addressPrefix)
	}
	link, ok := str(c, "explorerLink")
	switch {
	case !ok:
		r.add(path, "address.contract", "%s: explorerLink must be a string", label)
	case !strings.HasPrefix(link, "https://"):
		r.add(path, "address.explorerLink", "%s: explorerLink must be an https URL", label)
	}
}
