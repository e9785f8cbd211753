package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docvec/internal/service"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	cmd := redis.NewIntCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSink_Notify_PublishesJSON(t *testing.T) {
	pub := new(MockPublisher)
	sink := NewRedisSink(pub, "docvec:progress")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var sent []byte
	pub.On("Publish", mock.Anything, "docvec:progress", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).([]byte) }).
		Return(nil)

	err := sink.Notify(context.Background(), service.ProgressEvent{
		DocumentID: "doc-1",
		Location:   "notes/a.txt",
		Phase:      service.PhaseEmbedding,
		Processed:  2,
		Total:      5,
		At:         at,
	})

	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sent, &decoded))
	assert.Equal(t, "doc-1", decoded["document_id"])
	assert.Equal(t, "embedding", decoded["phase"])
	assert.EqualValues(t, 2, decoded["processed"])
	assert.EqualValues(t, 5, decoded["total"])
}

func TestRedisSink_Notify_PublishError(t *testing.T) {
	pub := new(MockPublisher)
	sink := NewRedisSink(pub, "c")
	pub.On("Publish", mock.Anything, "c", mock.Anything).Return(errors.New("connection refused"))

	err := sink.Notify(context.Background(), service.ProgressEvent{DocumentID: "d"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
