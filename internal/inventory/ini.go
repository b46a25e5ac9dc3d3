package inventory

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// sectionKind tells how lines under an INI header are interpreted.
type sectionKind int

const (
	sectionHosts sectionKind = iota
	sectionChildren
	sectionVars
)

// ungroupedGroup collects hosts listed before any header.
const ungroupedGroup = "ungrouped"

// hostRangePattern matches a numeric host range such as pc[01:20].
var hostRangePattern = regexp.MustCompile(`^(.*)\[(\d+):(\d+)\](.*)$`)

// INIResolver reads an Ansible INI inventory line by line.
type INIResolver struct {
	// path is the inventory file.
	path string
}

// NewINIResolver creates a resolver for the INI file at path.
func NewINIResolver(path string) *INIResolver {
	return &INIResolver{
		path: filepath.Clean(path),
	}
}

// Resolve returns the members of group.
func (r *INIResolver) Resolve(_ context.Context, group string) ([]transfer.Host, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	tree, err := parseINI(file)
	if err != nil {
		return nil, err
	}

	return tree.resolve(group)
}

// parseINI reads group headers and member lines into a group tree.
// Only the leading token of a member line is used; key=value annotations,
// comments and [group:vars] sections are ignored.
func parseINI(reader io.Reader) (*groupTree, error) {
	var (
		tree    = newGroupTree()
		current = ungroupedGroup
		kind    = sectionHosts
		scanner = bufio.NewScanner(reader)
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current, kind = parseHeader(line)
			if kind != sectionVars && !tree.has(current) {
				// Declare the group so an empty section still counts as defined.
				tree.members[current] = nil
			}

			continue
		}

		token := strings.Fields(line)[0]

		switch kind {
		case sectionHosts:
			for _, host := range expandHostRange(token) {
				tree.addHost(current, host)
			}
		case sectionChildren:
			tree.addChild(current, token)
		case sectionVars:
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	return tree, nil
}

// parseHeader splits "[name:suffix]" into the group name and the section kind.
func parseHeader(line string) (string, sectionKind) {
	name := strings.TrimSpace(line[1 : len(line)-1])

	group, suffix, found := strings.Cut(name, ":")
	if !found {
		return name, sectionHosts
	}

	switch suffix {
	case "children":
		return group, sectionChildren
	case "vars":
		return group, sectionVars
	default:
		return name, sectionHosts
	}
}

// expandHostRange expands a single numeric range, keeping zero padding:
// pc[08:10] becomes pc08, pc09, pc10. Anything else is returned as is.
func expandHostRange(token string) []string {
	match := hostRangePattern.FindStringSubmatch(token)
	if match == nil {
		return []string{token}
	}

	prefix, from, to, suffix := match[1], match[2], match[3], match[4]

	start, errStart := strconv.Atoi(from)
	end, errEnd := strconv.Atoi(to)

	if errStart != nil || errEnd != nil || end < start {
		return []string{token}
	}

	width := 0
	if strings.HasPrefix(from, "0") && len(from) > 1 {
		width = len(from)
	}

	hosts := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		hosts = append(hosts, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
	}

	return hosts
}
