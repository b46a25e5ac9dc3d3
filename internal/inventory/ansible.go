package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/executor"
)

// DefaultAnsibleInventoryBinary is the structured inventory query tool.
const DefaultAnsibleInventoryBinary = "ansible-inventory"

// AnsibleResolver asks ansible-inventory for exact group membership.
type AnsibleResolver struct {
	// source is passed to ansible-inventory with -i.
	source string
	// binary is the ansible-inventory executable.
	binary string
	// runner runs the query.
	runner executor.Runner
}

// ansibleGroup is one entry of the "ansible-inventory --list" document.
type ansibleGroup struct {
	Hosts    []string `json:"hosts"`
	Children []string `json:"children"`
}

// NewAnsibleResolver creates a resolver that queries ansible-inventory through runner.
func NewAnsibleResolver(source string, runner executor.Runner) *AnsibleResolver {
	return &AnsibleResolver{
		source: source,
		binary: DefaultAnsibleInventoryBinary,
		runner: runner,
	}
}

// Resolve returns the members of group.
func (r *AnsibleResolver) Resolve(ctx context.Context, group string) ([]transfer.Host, error) {
	res, err := r.runner.Run(ctx, r.binary, []string{"-i", r.source, "--list"})
	if err != nil {
		if executor.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %w", errUnavailable, err)
		}

		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("%w: %s", err, res.Stderr)
		}

		return nil, err
	}

	return parseAnsibleList([]byte(res.Stdout), group)
}

// parseAnsibleList expands group from the JSON produced by "ansible-inventory --list".
func parseAnsibleList(data []byte, group string) ([]transfer.Host, error) {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decode ansible-inventory output: %w", err)
	}

	tree := newGroupTree()

	for name, raw := range document {
		if name == "_meta" {
			continue
		}

		var entry ansibleGroup
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode group %q: %w", name, err)
		}

		tree.members[name] = entry.Hosts
		tree.children[name] = entry.Children
	}

	return tree.resolve(group)
}
