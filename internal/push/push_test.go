package push

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/classfeed/internal/classfeed"
)

func ptr[T any](v T) *T { return &v }

type published struct {
	channel string
	message []byte
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}

	f.sent = append(f.sent, published{channel: channel, message: message.([]byte)})
	cmd.SetVal(2)
	return cmd
}

func TestDecodeEngagement(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    classfeed.EngagementPayload
		wantErr bool
	}{
		{
			name:    "partial counters",
			payload: `{"new": {"id": "p1", "like_count": 3}}`,
			want:    classfeed.EngagementPayload{New: classfeed.EngagementDelta{ID: "p1", LikeCount: ptr(3)}},
		},
		{name: "missing id", payload: `{"new": {"like_count": 3}}`, wantErr: true},
		{name: "not json", payload: `like_count=3`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEngagement(&redis.Message{Channel: "engagement:p1", Payload: tt.payload})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodePostEvent(t *testing.T) {
	ev, err := decodePostEvent(&redis.Message{Payload: `{"type": "UPDATE", "post": {"id": "p1", "content": "edited"}}`})
	require.NoError(t, err)
	assert.Equal(t, classfeed.EventUpdate, ev.Type)
	assert.Equal(t, "edited", ev.Post.Content)

	_, err = decodePostEvent(&redis.Message{Payload: `{"type": "UPSERT", "post": {"id": "p1"}}`})
	assert.Error(t, err)

	_, err = decodePostEvent(&redis.Message{Payload: `{"type": "DELETE", "post": {}}`})
	assert.Error(t, err)
}

func TestPublisher(t *testing.T) {
	fake := &fakePublisher{}
	p := &Publisher{rdb: fake}
	ctx := context.Background()

	n, err := p.PublishEngagement(ctx, classfeed.EngagementDelta{ID: "p1", ShareCount: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = p.PublishPostEvent(ctx, classfeed.PostEvent{Type: classfeed.EventInsert, Post: classfeed.Post{ID: "p2"}})
	require.NoError(t, err)

	require.Len(t, fake.sent, 2)
	assert.Equal(t, "engagement:p1", fake.sent[0].channel)
	assert.JSONEq(t, `{"new": {"id": "p1", "share_count": 5}}`, string(fake.sent[0].message))
	assert.Equal(t, classfeed.PostEventsChannel, fake.sent[1].channel)

	var ev classfeed.PostEvent
	require.NoError(t, json.Unmarshal(fake.sent[1].message, &ev))
	assert.Equal(t, "p2", ev.Post.ID)

	// What gets published decodes on the other side.
	payload, err := decodeEngagement(&redis.Message{Payload: string(fake.sent[0].message)})
	require.NoError(t, err)
	assert.Equal(t, 5, *payload.New.ShareCount)

	fake.err = errors.New("connection refused")
	_, err = p.PublishEngagement(ctx, classfeed.EngagementDelta{ID: "p1"})
	assert.ErrorContains(t, err, "connection refused")
}

// Runs against a real server when REDIS_ADDR is set.
func TestSource_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan classfeed.EngagementPayload, 1)
	teardown, err := NewSource(rdb).SubscribeEngagement(ctx, []string{"redis-test-post"}, func(p classfeed.EngagementPayload) {
		got <- p
	})
	require.NoError(t, err)

	_, err = NewPublisher(rdb).PublishEngagement(ctx, classfeed.EngagementDelta{ID: "redis-test-post", LikeCount: ptr(9)})
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, 9, *p.New.LikeCount)
	case <-ctx.Done():
		t.Fatal("no engagement received")
	}
	require.NoError(t, teardown())
}
