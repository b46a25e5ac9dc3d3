package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// errNotAMapping is returned when the YAML document is not a mapping of groups.
var errNotAMapping = errors.New("decode inventory: top level must be a mapping of groups")

// YAMLResolver reads an Ansible YAML inventory.
type YAMLResolver struct {
	// path is the inventory file.
	path string
}

// NewYAMLResolver creates a resolver for the YAML file at path.
func NewYAMLResolver(path string) *YAMLResolver {
	return &YAMLResolver{
		path: filepath.Clean(path),
	}
}

// Resolve returns the members of group.
func (r *YAMLResolver) Resolve(_ context.Context, group string) ([]transfer.Host, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	tree, err := parseYAML(file)
	if err != nil {
		return nil, err
	}

	return tree.resolve(group)
}

// parseYAML reads nested "hosts" and "children" mappings into a group tree.
// A yaml.Node walk is used instead of maps so host order follows the file.
func parseYAML(reader io.Reader) (*groupTree, error) {
	var document yaml.Node
	if err := yaml.NewDecoder(reader).Decode(&document); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}

	tree := newGroupTree()

	if len(document.Content) == 0 {
		return tree, nil
	}

	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errNotAMapping
	}

	walkGroups(tree, root)

	return tree, nil
}

// walkGroups records every "name: {hosts, children}" pair of a mapping node.
func walkGroups(tree *groupTree, groups *yaml.Node) {
	for i := 0; i+1 < len(groups.Content); i += 2 {
		name := groups.Content[i].Value
		body := groups.Content[i+1]

		if !tree.has(name) {
			tree.members[name] = nil
		}

		if body.Kind != yaml.MappingNode {
			continue
		}

		for j := 0; j+1 < len(body.Content); j += 2 {
			key, value := body.Content[j].Value, body.Content[j+1]
			if value.Kind != yaml.MappingNode {
				continue
			}

			switch key {
			case "hosts":
				for k := 0; k+1 < len(value.Content); k += 2 {
					for _, host := range expandHostRange(value.Content[k].Value) {
						tree.addHost(name, host)
					}
				}
			case "children":
				for k := 0; k+1 < len(value.Content); k += 2 {
					tree.addChild(name, value.Content[k].Value)
				}

				walkGroups(tree, value)
			}
		}
	}
}
