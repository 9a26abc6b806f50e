package actuator

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxElements 单组最多输出元素数
const MaxElements = 32

// ErrLayout 布局配置非法
var ErrLayout = errors.New("actuator: invalid layout")

// Group 执行器组：仅是输出驱动的键，不持有硬件状态
type Group struct {
	Name     string `yaml:"name" mapstructure:"name" json:"name"`
	Elements int    `yaml:"elements" mapstructure:"elements" json:"elements"`
}

// Layout 本节点驱动的执行器组
type Layout struct {
	Groups []Group `yaml:"groups" mapstructure:"groups" json:"groups"`
}

// DefaultLayout 前后两组各 3 个元素
func DefaultLayout() *Layout {
	return &Layout{Groups: []Group{
		{Name: "front", Elements: 3},
		{Name: "back", Elements: 3},
	}}
}

// LoadLayout 从 YAML 文件加载布局
func LoadLayout(path string) (*Layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	var l Layout
	if err := yaml.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("unmarshal layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate 组名只能是 front/back 且不重复，元素数 1..MaxElements
func (l *Layout) Validate() error {
	seen := make(map[string]bool, len(l.Groups))
	for _, g := range l.Groups {
		if g.Name != "front" && g.Name != "back" {
			return fmt.Errorf("%w: unknown group %q", ErrLayout, g.Name)
		}
		if seen[g.Name] {
			return fmt.Errorf("%w: duplicate group %q", ErrLayout, g.Name)
		}
		seen[g.Name] = true
		if g.Elements < 1 || g.Elements > MaxElements {
			return fmt.Errorf("%w: group %q has %d elements", ErrLayout, g.Name, g.Elements)
		}
	}
	return nil
}

// Find 按名称查找组
func (l *Layout) Find(name string) (Group, bool) {
	if l == nil {
		return Group{}, false
	}
	for _, g := range l.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// Names 组名列表
func (l *Layout) Names() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.Groups))
	for _, g := range l.Groups {
		out = append(out, g.Name)
	}
	return out
}
