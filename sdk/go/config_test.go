package gofersdk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func TestPipelineJSONRoundTrips(t *testing.T) {
	body, err := NewPipeline("simple-pipeline", "Simple Pipeline").
		Description("a test pipeline").
		Parallelism(2).
		Tasks(
			NewTask("build", "golang:1.23").
				Command("go", "build", "./...").
				Variable("CGO_ENABLED", "0"),
			NewTask("test", "golang:1.23").
				DependsOn("build", models.RequiredParentStatusSuccess).
				Entrypoint("go", "test", "./..."),
		).
		Subscriptions(
			NewExtensionSubscription("cron", "nightly").Setting("schedule", "0 0 * * *"),
		).
		JSON()
	require.NoError(t, err)

	var decoded struct {
		Name          string                             `json:"name"`
		Parallelism   int64                              `json:"parallelism"`
		Tasks         []models.Task                      `json:"tasks"`
		Subscriptions []models.ExtensionSubscriptionDecl `json:"subscriptions"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))

	require.Equal(t, "Simple Pipeline", decoded.Name)
	require.EqualValues(t, 2, decoded.Parallelism)
	require.Len(t, decoded.Tasks, 2)
	require.Equal(t, "build", decoded.Tasks[0].ID)
	require.Equal(t, models.RequiredParentStatusSuccess, decoded.Tasks[1].DependsOn["build"])
	require.Len(t, decoded.Subscriptions, 1)
	require.Equal(t, "cron", decoded.Subscriptions[0].ExtensionID)
}

func TestPipelineValidateRejectsBadIdentifier(t *testing.T) {
	_, err := NewPipeline("Not Valid!", "x").JSON()
	require.Error(t, err)
}

func TestPipelineValidateRejectsBadTaskIdentifier(t *testing.T) {
	_, err := NewPipeline("ok-id", "x").
		Tasks(NewTask("Bad Task", "alpine")).
		JSON()
	require.Error(t, err)
}
