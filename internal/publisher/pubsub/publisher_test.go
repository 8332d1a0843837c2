package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "works-finished")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close()

	id, err := pub.Publish(ctx, "works-finished", map[string]any{"work_id": 42, "status": "连载中"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"work_id":42,"status":"连载中"}`, string(msgs[0].Data))
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "not configured")

	client, _ := newTestClient(t)
	pub := New(client)
	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublishMissingTopic(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	pub := New(client)
	defer pub.Close()

	_, err := pub.Publish(context.Background(), "absent", map[string]int{"n": 1})
	require.Error(t, err)
}
