package market

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// catalogFile models the structure of markets.yaml.
type catalogFile struct {
	Markets map[string]catalogEntry `yaml:"markets"`
}

// catalogEntry describes a single market definition entry.
type catalogEntry struct {
	Description     string   `yaml:"description"`
	Outcomes        []string `yaml:"outcomes"`
	MinimumBondWei  string   `yaml:"minimum_bond_wei"`
	LivenessSeconds int64    `yaml:"liveness_seconds"`
	VolumeWei       string   `yaml:"volume_wei"`
}

// Catalog 是基于 YAML 目录文件的只读市场定义提供者。
type Catalog struct {
	markets map[common.Hash]*Definition
}

// LoadCatalog parses the YAML file containing market metadata. An empty
// path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return &Catalog{markets: map[common.Hash]*Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取市场目录失败: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析市场目录失败: %w", err)
	}

	markets := make(map[common.Hash]*Definition, len(file.Markets))
	for key, entry := range file.Markets {
		id, err := parseMarketID(key)
		if err != nil {
			return nil, err
		}
		def := &Definition{
			ID:          id,
			Description: entry.Description,
			Outcomes:    append([]string(nil), entry.Outcomes...),
			Liveness:    time.Duration(entry.LivenessSeconds) * time.Second,
		}
		if def.MinimumBond, err = parseWei(key, "minimum_bond_wei", entry.MinimumBondWei); err != nil {
			return nil, err
		}
		if def.Volume, err = parseWei(key, "volume_wei", entry.VolumeWei); err != nil {
			return nil, err
		}
		def.normalize()
		markets[id] = def
	}

	return &Catalog{markets: markets}, nil
}

// parseMarketID 校验并解析 0x 前缀的 32 字节市场标识。
func parseMarketID(key string) (common.Hash, error) {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, "0x") || len(trimmed) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("非法的市场标识: %s", key)
	}
	return common.HexToHash(trimmed), nil
}

// parseWei 解析十进制 wei 字符串。空串返回 nil 交由 normalize 兜底。
func parseWei(key, field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("市场 %s 的 %s 非法: %s", key, field, raw)
	}
	return value, nil
}

// Definition 返回市场定义的拷贝。
func (c *Catalog) Definition(_ context.Context, id common.Hash) (*Definition, error) {
	if c == nil {
		return nil, ErrMarketNotFound
	}
	def, ok := c.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return def.clone(), nil
}

// All 返回目录中全部市场定义，按标识排序。
func (c *Catalog) All() []*Definition {
	if c == nil {
		return nil
	}
	defs := make([]*Definition, 0, len(c.markets))
	for _, def := range c.markets {
		defs = append(defs, def.clone())
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].ID.Hex() < defs[j].ID.Hex()
	})
	return defs
}

// Size 返回目录中的市场数量。
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	return len(c.markets)
}

// Ensure Catalog 实现 Provider 接口。
var _ Provider = (*Catalog)(nil)
