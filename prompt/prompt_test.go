package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/model"
)

var day = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func TestBuild_Default(t *testing.T) {
	out, err := New().Build(Params{
		UserName:     "Ada",
		Now:          day,
		Location:     &model.UserLocation{City: "Berlin", Country: "DE", Timezone: "Europe/Berlin"},
		Tools:        []string{"calculator", "memory"},
		Memory:       true,
		Instructions: "  Answer in German.  ",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "personal assistant for Ada.")
	assert.Contains(t, out, "Today is Friday, March 14, 2025.")
	assert.Contains(t, out, "located in Berlin, DE (Europe/Berlin).")
	assert.Contains(t, out, "You can use these tools: calculator, memory.")
	assert.Contains(t, out, "/memories")
	assert.Contains(t, out, "\n\nAnswer in German.")
}

func TestBuild_MinimalOmitsOptionalSections(t *testing.T) {
	out, err := New().Build(Params{Now: day})
	require.NoError(t, err)

	assert.Equal(t, "You are a helpful personal assistant.\nToday is Friday, March 14, 2025.", out)
}

func TestBuild_CustomTemplate(t *testing.T) {
	b := New(func(o *Options) { o.Template = "Hi {{.name | upper}}" })

	out, err := b.Build(Params{UserName: "ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi ADA", out)

	_, err = New(func(o *Options) { o.Template = "{{.broken" }).Build(Params{})
	assert.Error(t, err)
}

func TestFormatLocation(t *testing.T) {
	assert.Empty(t, formatLocation(nil))
	assert.Equal(t, "UTC", formatLocation(&model.UserLocation{Timezone: "UTC"}))
	assert.Equal(t, "Paris, FR", formatLocation(&model.UserLocation{City: "Paris", Country: "FR"}))
}
