package inventory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/executor"
	"github.com/oshokin/imgcast/internal/logger"
)

// Resolver turns a group name into its member hosts.
type Resolver interface {
	Resolve(ctx context.Context, group string) ([]transfer.Host, error)
}

// allGroup is the implicit group containing every host.
const allGroup = "all"

var (
	// errGroupRequired is returned when no group name is given.
	errGroupRequired = errors.New("group name must be provided")
	// errUnavailable is returned by a strategy that cannot run in this environment.
	errUnavailable = errors.New("resolver unavailable")
)

// Chain tries resolvers in order and returns the first successful answer.
type Chain struct {
	// resolvers are tried in precedence order.
	resolvers []namedResolver
}

// namedResolver pairs a strategy with the name used in logs.
type namedResolver struct {
	name     string
	resolver Resolver
}

// NewChain builds the default strategy chain for an inventory source:
// the ansible-inventory query first, then the YAML or INI reader depending
// on the file extension.
func NewChain(source string) *Chain {
	chain := new(Chain)
	chain.Add("ansible-inventory", NewAnsibleResolver(source, executor.New()))

	switch strings.ToLower(filepath.Ext(source)) {
	case ".yml", ".yaml":
		chain.Add("yaml", NewYAMLResolver(source))
	default:
		chain.Add("ini", NewINIResolver(source))
	}

	return chain
}

// Add appends a strategy with the lowest precedence so far.
func (c *Chain) Add(name string, resolver Resolver) {
	c.resolvers = append(c.resolvers, namedResolver{name: name, resolver: resolver})
}

// Resolve returns the members of group from the first strategy that succeeds.
// The result is wrapped in transfer.ErrResolution when every strategy fails.
func (c *Chain) Resolve(ctx context.Context, group string) ([]transfer.Host, error) {
	if strings.TrimSpace(group) == "" {
		return nil, fmt.Errorf("%w: %w", transfer.ErrResolution, errGroupRequired)
	}

	var errs []error

	for _, r := range c.resolvers {
		hosts, err := r.resolver.Resolve(ctx, group)
		if err == nil {
			logger.DebugKV(ctx, "Inventory group resolved", "strategy", r.name, "group", group, "hosts", len(hosts))
			return hosts, nil
		}

		if errors.Is(err, errUnavailable) {
			logger.DebugKV(ctx, "Inventory strategy unavailable", "strategy", r.name, "error", err)
		} else {
			logger.WarnKV(ctx, "Inventory strategy failed, falling back", "strategy", r.name, "error", err)
		}

		errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
	}

	return nil, fmt.Errorf("%w: group %q: %w", transfer.ErrResolution, group, errors.Join(errs...))
}

// groupTree is an intermediate view of an inventory shared by the readers.
type groupTree struct {
	// members maps a group to its direct hosts in file order.
	members map[string][]string
	// children maps a group to its child groups in file order.
	children map[string][]string
	// order lists every host in file order, for the implicit "all" group.
	order []string
}

// newGroupTree creates an empty tree.
func newGroupTree() *groupTree {
	return &groupTree{
		members:  make(map[string][]string),
		children: make(map[string][]string),
	}
}

// addHost records host as a direct member of group.
func (t *groupTree) addHost(group, host string) {
	t.members[group] = append(t.members[group], host)
	t.order = append(t.order, host)
}

// addChild records child as a sub-group of group.
func (t *groupTree) addChild(group, child string) {
	t.children[group] = append(t.children[group], child)
}

// has reports whether the group is defined at all.
func (t *groupTree) has(group string) bool {
	_, isMember := t.members[group]
	_, isParent := t.children[group]

	return isMember || isParent
}

// resolve expands group into unique hosts, following child groups depth first.
func (t *groupTree) resolve(group string) ([]transfer.Host, error) {
	var names []string

	if group == allGroup && !t.has(allGroup) {
		names = t.order
	} else {
		if !t.has(group) {
			return nil, fmt.Errorf("group %q not found", group)
		}

		names = t.collect(group, make(map[string]bool))
	}

	hosts := transfer.UniqueHosts(names)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("group %q has no hosts", group)
	}

	return hosts, nil
}

// collect walks group and its children, guarding against cycles.
func (t *groupTree) collect(group string, visited map[string]bool) []string {
	if visited[group] {
		return nil
	}

	visited[group] = true

	names := append([]string(nil), t.members[group]...)
	for _, child := range t.children[group] {
		names = append(names, t.collect(child, visited)...)
	}

	return names
}
