// depscheck enforces the module's layering rules with go list. The hot
// path stays free of logging and transport imports, and the logging core
// stays free of domain imports, so a refactor cannot quietly invert the
// dependency direction.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// rules maps a package-path prefix to the module import prefixes it must
// not depend on.
var rules = map[string][]string{
	// Records, rings, and the pool are the allocation-free hot path.
	"emberfall/server/internal/event": {
		"emberfall/server/logging",
		"emberfall/server/internal/queue",
		"emberfall/server/internal/dispatch",
		"emberfall/server/internal/net",
	},
	"emberfall/server/internal/ring": {
		"emberfall/server/logging",
		"emberfall/server/internal/queue",
		"emberfall/server/internal/dispatch",
		"emberfall/server/internal/net",
	},
	// The queue publishes through interfaces; it never sees the dispatcher
	// or the transport.
	"emberfall/server/internal/queue": {
		"emberfall/server/internal/dispatch",
		"emberfall/server/internal/net",
	},
	// The logging core is infrastructure; helper packages under logging/
	// may name domain event types, but the router itself must not reach
	// into internal packages.
	"emberfall/server/logging": {
		"emberfall/server/internal",
	},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	decoder := json.NewDecoder(bytes.NewReader(output))

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
			os.Exit(1)
		}

		for prefix, forbidden := range rules {
			if !matchesRule(pkg.ImportPath, prefix) {
				continue
			}
			for _, imp := range pkg.Imports {
				for _, banned := range forbidden {
					if strings.HasPrefix(imp, banned) {
						violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
					}
				}
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

// matchesRule reports whether path is the rule package or nested in it.
// The logging rule matches only the core package, not its helper
// subpackages.
func matchesRule(path, prefix string) bool {
	if prefix == "emberfall/server/logging" {
		return path == prefix
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
