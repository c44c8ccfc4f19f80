package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "air_tracker.stage.flights", Subject("air_tracker", "flights"))
	assert.Equal(t, "ops.stage.delays", Subject("ops.", "delays"))
}

func TestStageReportJSON(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := json.Marshal(StageReport{
		RunID: "r1", Stage: "airports", Processed: 15, Written: 14, Skipped: 1,
		StartedAt: started, FinishedAt: started.Add(16 * time.Second),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"run_id":"r1","stage":"airports","processed":15,"written":14,"skipped":1,"failed":0,
		"started_at":"2024-03-01T12:00:00Z","finished_at":"2024-03-01T12:00:16Z"
	}`, string(b))
}

func TestPublishStage(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	p, err := Connect(Config{URL: url, SubjectPrefix: "air_tracker_test"}, nil)
	if err != nil {
		t.Skip("No NATS server available")
	}
	defer p.Close()

	sub, err := p.Conn().SubscribeSync("air_tracker_test.stage.>")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, p.PublishStage(context.Background(), StageReport{RunID: "r1", Stage: "aircraft", Written: 3}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "air_tracker_test.stage.aircraft", msg.Subject)

	var got StageReport
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, 3, got.Written)
}
