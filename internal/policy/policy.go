// Package policy loads and enforces the static (subject, object, action)
// permission set that decides whether a tenant may reach a backend
// target. The file format is casbin-compatible ("p, subj, obj, act" /
// "g, user, role") so existing policy files written against the
// original Python proxy's casbin.Enforcer(model.conf, policy.csv) call
// load unchanged — but the core only needs exact subject==tenant triple
// matching, so enforcement here is a plain set lookup rather than a
// pulled-in casbin dependency.
package policy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/relaygate/relaygate/internal/logger"
)

// Action is the only action the core policy model supports.
const Action = "access"

type rule struct {
	subject string
	object  string
	action  string
}

// Set is an immutable, loaded-once permission set with O(1) membership
// checks. A Set is safe for concurrent reads by many goroutines since it
// is never mutated after Load returns.
type Set struct {
	rules map[rule]struct{}
}

// Load reads a policy file from disk and builds a Set.
//
// Lines beginning with "#" and blank lines are ignored. A leading "p,"
// denotes a permission triple. A leading "g," denotes a role grouping,
// reserved for future extension; such lines are accepted but otherwise
// ignored; logged as a warning rather than silently treated as a
// wildcard allow. A "p," or "g," line with the wrong number of fields
// fails the load. Any other rule form is skipped with a warning and
// grants nothing.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	return parse(f)
}

func parse(r io.Reader) (*Set, error) {
	log := logger.Component("policy")
	s := &Set{rules: make(map[rule]struct{})}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "p":
			if len(fields) != 4 {
				return nil, fmt.Errorf("policy line %d: malformed permission rule %q", lineNo, line)
			}
			s.rules[rule{subject: fields[1], object: fields[2], action: fields[3]}] = struct{}{}
		case "g":
			if len(fields) != 3 {
				return nil, fmt.Errorf("policy line %d: malformed role grouping %q", lineNo, line)
			}
			log.Warn().Str("line", line).Msg("role grouping rules are accepted but not enforced by this build")
		default:
			log.Warn().Str("line", line).Msg("ignoring unrecognized policy rule form")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return s, nil
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Allow reports whether the (subject, object, action) triple is a
// member of the loaded set. Default-deny: anything not present is
// denied.
func (s *Set) Allow(subject, object, action string) bool {
	_, ok := s.rules[rule{subject: subject, object: object, action: action}]
	return ok
}
