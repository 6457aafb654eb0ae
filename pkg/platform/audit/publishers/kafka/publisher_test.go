package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"audiovault/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "audit")
	assert.Error(t, err)
}

func TestAppendKeysByResource(t *testing.T) {
	fp := &fakeProducer{}
	p := &Publisher{client: fp, topic: "audiovault.audit"}
	e := audit.Entry{
		ID:         uuid.New(),
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Category:   audit.CategoryPHIAccess,
		ResourceID: "rec-1",
		Action:     audit.ActionRegistrationCompleted,
		Success:    true,
	}

	require.NoError(t, p.Append(context.Background(), e))
	require.Len(t, fp.records, 1)
	rec := fp.records[0]
	assert.Equal(t, "audiovault.audit", rec.Topic)
	assert.Equal(t, "rec-1", string(rec.Key))
	assert.Equal(t, e.ID.String(), string(rec.Headers[0].Value))

	var decoded audit.Entry
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, e.Action, decoded.Action)
	assert.Equal(t, e.ID, decoded.ID)
}

func TestAppendReturnsProduceError(t *testing.T) {
	p := &Publisher{client: &fakeProducer{err: errors.New("not leader")}, topic: "t"}
	err := p.Append(context.Background(), audit.Entry{ID: uuid.New()})
	assert.ErrorContains(t, err, "produce audit entry")
}
