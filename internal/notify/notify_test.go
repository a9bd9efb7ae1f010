package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher_Publish(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	publisher := NewRedisPublisher(client, "", logrus.New())
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()
	pubsub := subscriber.Subscribe(ctx, DefaultChannel)
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	old := 15999.0
	change := PriceChange{
		RunID:      "run-1",
		ProductID:  7,
		URL:        "https://www.jumia.co.ke/a14.html",
		Name:       "Samsung Galaxy A14",
		Platform:   "jumia",
		OldPrice:   &old,
		NewPrice:   14999,
		ObservedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, publisher.Publish(ctx, change))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultChannel, msg.Channel)

	var got PriceChange
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, change.ProductID, got.ProductID)
	assert.Equal(t, change.URL, got.URL)
	require.NotNil(t, got.OldPrice)
	assert.Equal(t, old, *got.OldPrice)
	assert.Equal(t, 14999.0, got.NewPrice)
	assert.True(t, change.ObservedAt.Equal(got.ObservedAt))
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	publisher, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0", "prices", logrus.New())
	require.NoError(t, err)
	defer publisher.Close()
	assert.Equal(t, "prices", publisher.channel)

	_, err = Connect(context.Background(), "not a url", "", logrus.New())
	assert.Error(t, err)
}

func TestRedisPublisher_PublishAfterServerGone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	publisher := NewRedisPublisher(client, "prices", logrus.New())
	defer publisher.Close()
	mr.Close()

	err = publisher.Publish(context.Background(), PriceChange{URL: "https://jiji.co.ke/x.html", NewPrice: 10})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var publisher Publisher = Nop{}
	assert.NoError(t, publisher.Publish(context.Background(), PriceChange{}))
	assert.NoError(t, publisher.Close())
}
