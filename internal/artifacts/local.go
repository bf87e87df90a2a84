package artifacts

import (
	"fmt"
	"path/filepath"
)

// Aliases are the five fixed container paths spec §4.2 step 10 copies
// artifacts from, each mapped to the alias directory it lands in on the host.
var Aliases = map[string]string{
	"/app/playwright-report":  "native-report",
	"/app/pytest-report":      "native-report",
	"/app/mochawesome-report": "native-report",
	"/app/allure-results":     "allure-results",
	"/app/allure-report":      "allure-report",
}

// Store resolves where a job's artifacts live on the local filesystem and
// what URL they're reachable at.
type Store struct {
	Root    string // filesystem root, e.g. /var/lib/runbox/reports
	BaseURL string // public base URL the Producer serves /reports/... under
}

// NewStore builds a Store rooted at root, served publicly under baseURL.
func NewStore(root, baseURL string) *Store {
	return &Store{Root: root, BaseURL: baseURL}
}

// JobDir is the directory a single execution's artifacts live under.
func (s *Store) JobDir(organizationID, taskID string) string {
	return filepath.Join(s.Root, organizationID, taskID)
}

// AliasDir is the destination directory for one of the five fixed container
// paths, e.g. {root}/{org}/{task}/allure-report.
func (s *Store) AliasDir(organizationID, taskID, alias string) string {
	return filepath.Join(s.JobDir(organizationID, taskID), alias)
}

// ReportsBaseURL is the URL recorded on the Execution once artifacts exist.
func (s *Store) ReportsBaseURL(organizationID, taskID string) string {
	return fmt.Sprintf("%s/reports/%s/%s", s.BaseURL, organizationID, taskID)
}
