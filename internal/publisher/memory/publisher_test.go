package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "ingest-runs", map[string]int{"sources": 3})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = pub.Publish(context.Background(), "ingest-runs", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "ingest-runs", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "ingest-runs", pub.Messages()[0].Topic, "Messages returns a copy")
}
