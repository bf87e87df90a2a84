package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_Paths(t *testing.T) {
	s := NewStore("/var/lib/runbox/reports", "https://runbox.example.com")

	assert.Equal(t, "/var/lib/runbox/reports/org1/task1", s.JobDir("org1", "task1"))
	assert.Equal(t, "/var/lib/runbox/reports/org1/task1/allure-report", s.AliasDir("org1", "task1", "allure-report"))
	assert.Equal(t, "https://runbox.example.com/reports/org1/task1", s.ReportsBaseURL("org1", "task1"))
}

func TestAliases_CoverAllFiveContainerPaths(t *testing.T) {
	assert.Equal(t, "native-report", Aliases["/app/playwright-report"])
	assert.Equal(t, "native-report", Aliases["/app/pytest-report"])
	assert.Equal(t, "native-report", Aliases["/app/mochawesome-report"])
	assert.Equal(t, "allure-results", Aliases["/app/allure-results"])
	assert.Equal(t, "allure-report", Aliases["/app/allure-report"])
	assert.Len(t, Aliases, 5)
}
