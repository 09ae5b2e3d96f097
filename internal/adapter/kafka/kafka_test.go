package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	ts := time.Date(2024, 4, 26, 14, 0, 0, 0, time.UTC)
	producedAt := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
	sample := domain.NewSample(domain.LabelFlood, 30.2672, -97.7431, ts, "iem:EWX:112")
	sample.Event = "Flood Warning"
	sample.Area = "Travis [TX]"

	msg, err := serializeToMessage(sample, producedAt)
	require.NoError(t, err)

	assert.Equal(t, []byte(sample.ID), msg.Key)
	assert.Contains(t, string(msg.Value), `"label":"flood"`)
	assert.Contains(t, string(msg.Value), `"provenance":"iem:EWX:112"`)
	assert.Contains(t, string(msg.Value), `"event":"Flood Warning"`)

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "label", msg.Headers[0].Key)
	assert.Equal(t, []byte("flood"), msg.Headers[0].Value)
	assert.Equal(t, "produced_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-07-01T09:30:00Z"), msg.Headers[1].Value)
}

func TestSerializeToMessage_NegativeOmitsAlertFields(t *testing.T) {
	ts := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	sample := domain.NewSample(domain.LabelNoFlood, 29.9, -96.5, ts, "synthetic:flood-abc:0:1")

	msg, err := serializeToMessage(sample, time.Now().UTC())
	require.NoError(t, err)

	assert.Contains(t, string(msg.Value), `"label":"no_flood"`)
	assert.NotContains(t, string(msg.Value), `"event"`, "empty alert descriptors stay out of the payload")
	assert.Equal(t, []byte("no_flood"), msg.Headers[0].Value)
}

func TestNewPublisher_WriterSettings(t *testing.T) {
	p := NewPublisher([]string{"broker1:9092", "broker2:9092"}, "flood-dataset-samples", nil)
	defer p.Close()

	assert.Equal(t, "flood-dataset-samples", p.writer.Topic)
	assert.IsType(t, &kafkago.LeastBytes{}, p.writer.Balancer)
	assert.Equal(t, kafkago.RequireAll, p.writer.RequiredAcks)
}
