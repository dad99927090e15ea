package source

import (
	"testing"

	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacts(t *testing.T) {
	body := `[
		{"name": "patch_window", "value": "Week 1 Sat 0200", "count": 12},
		{"name": "patch_window", "value": "", "count": 4},
		{"name": "patch_window", "value": "Week 2 Sun 0400", "count": 3}
	]`
	got, err := Facts([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []suggest.Item{
		{Value: "Week 1 Sat 0200", Count: 12, Meta: map[string]string{"fact": "patch_window"}},
		{Value: "Week 2 Sun 0400", Count: 3, Meta: map[string]string{"fact": "patch_window"}},
	}, got)
}

func TestEnvironments(t *testing.T) {
	got, err := Environments([]byte(`{"environments": ["production", "development"]}`))
	require.NoError(t, err)
	assert.Equal(t, []suggest.Item{{Value: "production"}, {Value: "development"}}, got)

	got, err = Environments([]byte(`{"environments": [{"name": "production"}, {"name": ""}]}`))
	require.NoError(t, err)
	assert.Equal(t, []suggest.Item{{Value: "production"}}, got)

	_, err = Environments([]byte(`{"status": "error"}`))
	assert.Error(t, err)

	_, err = Environments([]byte(`{"environments": [1]}`))
	assert.Error(t, err)
}

func TestPlansAndTasks(t *testing.T) {
	plans, err := LookupTransform("plans")
	require.NoError(t, err)
	got, err := plans([]byte(`{"plans": {"items": [
		{"name": "patching::run", "environment": {"name": "production"}},
		{"name": "patching::reboot"}
	]}}`))
	require.NoError(t, err)
	assert.Equal(t, []suggest.Item{
		{Value: "patching::run", Meta: map[string]string{"environment": "production"}},
		{Value: "patching::reboot"},
	}, got)

	tasks, err := LookupTransform("tasks")
	require.NoError(t, err)
	_, err = tasks([]byte(`{"plans": {"items": []}}`))
	assert.Error(t, err, "task transform requires the tasks field")

	got, err = tasks([]byte(`{"tasks": {"items": [{"name": "package::status"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, []suggest.Item{{Value: "package::status"}}, got)
}

func TestStrings(t *testing.T) {
	got, err := Strings([]byte(`["a", "", "b"]`))
	require.NoError(t, err)
	assert.Equal(t, []suggest.Item{{Value: "a"}, {Value: "b"}}, got)

	_, err = Strings([]byte(`{"a": 1}`))
	assert.Error(t, err)
}

func TestLookupTransform(t *testing.T) {
	_, err := LookupTransform("")
	assert.NoError(t, err)
	_, err = LookupTransform("FACTS")
	assert.NoError(t, err)
	_, err = LookupTransform("csv")
	assert.ErrorContains(t, err, "unknown transform")
	assert.Equal(t, []string{"environments", "facts", "plans", "strings", "tasks"}, TransformNames())
}
