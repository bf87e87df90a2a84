// Package injector builds the environment variable set handed to a job
// container, merging the caller's request with a fixed allow-list of host
// secrets and rewriting host-local URLs so containers can reach services
// running on the developer's machine.
package injector

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/volaticloud/runbox/internal/execution"
)

// HostGateway is the Docker Desktop / Linux host-gateway alias substituted
// for "localhost"/"127.0.0.1" in rewritten URLs.
const HostGateway = "host.docker.internal"

// allowList is the exact set of host environment variables from spec §4.5
// that may flow into a container when the caller didn't already set them.
var allowList = []string{
	"API_USER", "API_PASSWORD", "BASE_URL", "SECRET_KEY",
	"DB_USER", "DB_PASS", "MONGO_URI", "MONGODB_URL",
	"REDIS_URL", "GEMINI_API_KEY",
}

// rewriteKeys are the env vars whose value gets localhost->HostGateway
// rewriting applied.
var rewriteKeys = map[string]bool{
	"BASE_URL":    true,
	"MONGO_URI":   true,
	"MONGODB_URL": true,
}

// HostEnvLookup abstracts os.LookupEnv for testability.
type HostEnvLookup func(key string) (string, bool)

// Build assembles the final environment for a job container as a sorted
// "KEY=VALUE" slice suitable for container.Config.Env.
func Build(taskID string, cfg execution.Config, lookup HostEnvLookup) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	env := map[string]string{
		"TASK_ID":            taskID,
		"CI":                 "true",
		"FRAMEWORK_AGNOSTIC": "true",
	}
	if cfg.BaseURL != "" {
		env["BASE_URL"] = cfg.BaseURL
	}

	for k, v := range cfg.EnvVars {
		env[k] = v
	}

	for _, key := range allowList {
		if _, set := env[key]; set {
			continue
		}
		if v, ok := lookup(key); ok && v != "" {
			env[key] = v
		}
	}

	for key := range rewriteKeys {
		if v, ok := env[key]; ok {
			env[key] = rewriteHostLocal(v)
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}

// rewriteHostLocal substitutes the host-gateway alias for localhost/127.0.0.1
// occurrences so containers can reach services bound on the host.
func rewriteHostLocal(value string) string {
	value = strings.ReplaceAll(value, "127.0.0.1", HostGateway)
	value = strings.ReplaceAll(value, "localhost", HostGateway)
	return value
}
