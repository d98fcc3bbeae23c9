package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	"github.com/orbiterhq/orbiter/engine/types"
)

// fileDocument is the YAML shape of a static rotation setup.
type fileDocument struct {
	Configs []fileConfig `yaml:"configs"`
	Proxies []fileProxy  `yaml:"proxies"`
}

type fileConfig struct {
	ID          string         `yaml:"id"`
	Strategy    string         `yaml:"strategy"`
	TargetGroup string         `yaml:"target_group"`
	Priority    int            `yaml:"priority"`
	Enabled     *bool          `yaml:"enabled"`
	Params      map[string]any `yaml:"params"`
}

type fileProxy struct {
	ID            string   `yaml:"id"`
	Weight        *float64 `yaml:"weight"`
	RotationGroup string   `yaml:"rotation_group"`
	Region        string   `yaml:"region"`
	Status        string   `yaml:"status"`
	LatencyMs     *float64 `yaml:"latency_ms"`
	SuccessRate   *float64 `yaml:"success_rate"`
}

// FileProvider serves rotation configs and proxy snapshots from a YAML
// document. It satisfies the engine's ConfigProvider and ProxyPoolProvider
// interfaces and exists for embedding, development and tests; production
// deployments plug in the browser's persistence layer instead.
type FileProvider struct {
	configs map[string]*types.RotationConfig
	proxies []types.Proxy
}

// LoadFile reads and validates a YAML rotation document.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rotation file: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML rotation document.
func Parse(data []byte) (*FileProvider, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rotation file: %w", err)
	}

	p := &FileProvider{configs: make(map[string]*types.RotationConfig)}

	for _, fc := range doc.Configs {
		stored := StoredConfig{
			ID:          fc.ID,
			Strategy:    fc.Strategy,
			TargetGroup: fc.TargetGroup,
			Priority:    fc.Priority,
			Enabled:     fc.Enabled == nil || *fc.Enabled,
		}
		if len(fc.Params) > 0 {
			// Strategy params share one decoder; re-encode the YAML
			// node as JSON and run it through the load boundary.
			raw, err := sonic.Marshal(fc.Params)
			if err != nil {
				return nil, types.NewConfigError(fc.ID, "params", err.Error())
			}
			stored.Params = raw
		}

		cfg, err := ParseConfig(stored)
		if err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			continue
		}
		if prev, ok := p.configs[cfg.TargetGroup]; ok {
			return nil, types.NewConfigError(cfg.ID, "target_group",
				fmt.Sprintf("group %q already has active config %q", cfg.TargetGroup, prev.ID))
		}
		p.configs[cfg.TargetGroup] = cfg
	}

	for _, fp := range doc.Proxies {
		if fp.ID == "" {
			return nil, types.NewConfigError("", "proxies", "proxy without id")
		}
		proxy := types.Proxy{
			ID:            fp.ID,
			Weight:        types.DefaultWeight,
			RotationGroup: fp.RotationGroup,
			Region:        fp.Region,
			Status:        types.ProxyActive,
			SuccessRate:   100,
			LatencyMs:     fp.LatencyMs,
		}
		if fp.Weight != nil {
			proxy.Weight = *fp.Weight
		}
		if fp.Status != "" {
			proxy.Status = types.ProxyStatus(fp.Status)
		}
		if fp.SuccessRate != nil {
			proxy.SuccessRate = *fp.SuccessRate
		}
		p.proxies = append(p.proxies, proxy)
	}

	return p, nil
}

// ActiveConfig returns the single active config for a target group, nil if
// the group has none.
func (p *FileProvider) ActiveConfig(targetGroup string) (*types.RotationConfig, error) {
	cfg, ok := p.configs[targetGroup]
	if !ok {
		return nil, nil
	}
	return cfg, nil
}

// ListEnabled returns the enabled, non-disabled proxies of a target group.
// An empty group matches proxies without a rotation group.
func (p *FileProvider) ListEnabled(targetGroup string) ([]types.Proxy, error) {
	var out []types.Proxy
	for _, proxy := range p.proxies {
		if proxy.RotationGroup != targetGroup {
			continue
		}
		if proxy.Status == types.ProxyDisabled {
			continue
		}
		out = append(out, proxy)
	}
	return out, nil
}
