package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/yourusername/qbank-api/internal/domain/entity"
	"github.com/yourusername/qbank-api/internal/namespace"
)

// Node - выбранный узел таксономии. Уровень LevelGlobal означает весь тенант.
type Node struct {
	Level entity.Level `json:"level"`
	ID    uint         `json:"id"`
}

// Plan - разобранная выборка: выбранные узлы, ближайший выбранный предок каждого узла и корни.
// Корни (узлы без выбранного предка) попарно не пересекаются.
type Plan struct {
	Spec     entity.SelectionSpec
	Nodes    []Node
	Ancestor map[Node]Node
	Roots    []Node
}

// Children возвращает узлы, чей ближайший выбранный предок - n
func (p *Plan) Children(n Node) []Node {
	var out []Node
	for _, c := range p.Nodes {
		if a, ok := p.Ancestor[c]; ok && a == n {
			out = append(out, c)
		}
	}
	return out
}

// Namespace возвращает пространство узла для фильтра.
// Для FilterUnanswered пространства нет: вызывающий код раскладывает его на all и answered.
func (p *Plan) Namespace(n Node, filter entity.SelectionFilter) namespace.Namespace {
	status, isUser := filter.UserStatus()
	if !isUser {
		return namespace.Node(p.Spec.TenantID, n.Level, n.ID)
	}
	if n.Level == entity.LevelGlobal {
		return namespace.User(p.Spec.TenantID, p.Spec.UserID, status)
	}
	return namespace.UserScoped(p.Spec.TenantID, p.Spec.UserID, status, n.Level, n.ID)
}

// RootNamespaces возвращает пространства корней для фильтра
func (p *Plan) RootNamespaces(filter entity.SelectionFilter) []namespace.Namespace {
	out := make([]namespace.Namespace, 0, len(p.Roots))
	for _, root := range p.Roots {
		out = append(out, p.Namespace(root, filter))
	}
	return out
}

// Plan строит план выборки: каждый узел привязывается к ближайшему выбранному предку.
// Предок ищется через связи таксономии; для группы, чья подтема не выбрана,
// предком становится выбранная тема (случай «дед и внук без среднего уровня»).
func (r *Resolver) Plan(ctx context.Context, spec entity.SelectionSpec) (*Plan, error) {
	spec.Normalize()
	plan := &Plan{Spec: spec, Ancestor: make(map[Node]Node)}

	if spec.IsWholeTenant() {
		global := Node{Level: entity.LevelGlobal, ID: spec.TenantID}
		plan.Nodes = []Node{global}
		plan.Roots = []Node{global}
		return plan, nil
	}

	lineage := entity.NewLineage()
	if len(spec.SubthemeIDs) > 0 || len(spec.GroupIDs) > 0 {
		l, err := r.taxonomy.Lineage(ctx, spec.TenantID, spec.SubthemeIDs, spec.GroupIDs)
		if err != nil {
			return nil, fmt.Errorf("load taxonomy lineage: %w", err)
		}
		lineage = l
	}

	themes := toSet(spec.ThemeIDs)
	subthemes := toSet(spec.SubthemeIDs)

	// 1. Темы - всегда корни
	for _, id := range spec.ThemeIDs {
		plan.Nodes = append(plan.Nodes, Node{Level: entity.LevelTheme, ID: id})
	}

	// 2. Подтемы - под выбранной темой или корни
	for _, id := range spec.SubthemeIDs {
		n := Node{Level: entity.LevelSubtheme, ID: id}
		plan.Nodes = append(plan.Nodes, n)
		if theme, ok := lineage.Subthemes[id]; ok && themes[theme] {
			plan.Ancestor[n] = Node{Level: entity.LevelTheme, ID: theme}
		}
	}

	// 3. Группы - под ближайшим выбранным предком
	for _, id := range spec.GroupIDs {
		n := Node{Level: entity.LevelGroup, ID: id}
		plan.Nodes = append(plan.Nodes, n)
		parent, ok := lineage.Groups[id]
		if !ok {
			continue
		}
		switch {
		case subthemes[parent.SubthemeID]:
			plan.Ancestor[n] = Node{Level: entity.LevelSubtheme, ID: parent.SubthemeID}
		case themes[parent.ThemeID]:
			plan.Ancestor[n] = Node{Level: entity.LevelTheme, ID: parent.ThemeID}
		}
	}

	for _, n := range plan.Nodes {
		if _, nested := plan.Ancestor[n]; !nested {
			plan.Roots = append(plan.Roots, n)
		}
	}
	sort.SliceStable(plan.Roots, func(i, j int) bool {
		if plan.Roots[i].Level.Depth() != plan.Roots[j].Level.Depth() {
			return plan.Roots[i].Level.Depth() < plan.Roots[j].Level.Depth()
		}
		return plan.Roots[i].ID < plan.Roots[j].ID
	})
	return plan, nil
}

func toSet(ids []uint) map[uint]bool {
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
