package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dispatch/internal/core"
)

func newEngine(h *harness) *core.DeliveryEngine {
	return core.NewDeliveryEngine(h.sink, titleFormatter{}, h.clock, core.DeliveryConfig{}, discardLogger)
}

func candidate(title string) core.Candidate {
	item := &core.Item{ID: title, Namespace: "test", Title: title}
	return core.Candidate{Item: item, Key: item.LedgerKey()}
}

func TestDelivery_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		replies    []sinkReply
		want       core.Outcome
		wantPosts  int
		wantSleeps []time.Duration
	}{
		{
			name:      "success",
			replies:   []sinkReply{{status: 204}},
			want:      core.OutcomeSuccess,
			wantPosts: 1,
		},
		{
			name:       "rate limited with retry-after",
			replies:    []sinkReply{{status: 429, retryAfter: 5 * time.Second, hasHint: true}, {status: 200}},
			want:       core.OutcomeSuccess,
			wantPosts:  2,
			wantSleeps: []time.Duration{5 * time.Second},
		},
		{
			name:       "rate limited without hint",
			replies:    []sinkReply{{status: 429}, {status: 429}, {status: 204}},
			want:       core.OutcomeSuccess,
			wantPosts:  3,
			wantSleeps: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:      "client error is fatal",
			replies:   []sinkReply{{status: 404}},
			want:      core.OutcomeFatal,
			wantPosts: 1,
		},
		{
			name:       "server errors exhaust attempts",
			replies:    []sinkReply{{status: 500}, {status: 502}, {status: 503}},
			want:       core.OutcomeTransient,
			wantPosts:  3,
			wantSleeps: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:       "network error then success",
			replies:    []sinkReply{{err: errors.New("dial tcp: connection refused")}, {status: 204}},
			want:       core.OutcomeSuccess,
			wantPosts:  2,
			wantSleeps: []time.Duration{time.Second},
		},
		{
			name:       "rate limited on final attempt",
			replies:    []sinkReply{{status: 500}, {status: 500}, {status: 429, retryAfter: time.Minute, hasHint: true}},
			want:       core.OutcomeTransient,
			wantPosts:  3,
			wantSleeps: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:      "unexpected redirect",
			replies:   []sinkReply{{status: 302}},
			want:      core.OutcomeTransient,
			wantPosts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.sink.script("item", tt.replies...)

			got := newEngine(h).Deliver(context.Background(), candidate("item"))

			assert.Equal(t, tt.want, got)
			assert.Len(t, h.sink.Posted(), tt.wantPosts)
			assert.Equal(t, tt.wantSleeps, h.clock.Sleeps())
		})
	}
}

func TestDelivery_FormatErrorIsFatal(t *testing.T) {
	h := newHarness()

	got := newEngine(h).Deliver(context.Background(), candidate(""))

	assert.Equal(t, core.OutcomeFatal, got)
	assert.Empty(t, h.sink.Posted())
}

func TestDelivery_CustomAttempts(t *testing.T) {
	h := newHarness()
	h.sink.script("item", sinkReply{status: 500})
	engine := core.NewDeliveryEngine(h.sink, titleFormatter{}, h.clock, core.DeliveryConfig{
		MaxAttempts: 5,
		BackoffUnit: 100 * time.Millisecond,
	}, discardLogger)

	got := engine.Deliver(context.Background(), candidate("item"))

	assert.Equal(t, core.OutcomeTransient, got)
	assert.Len(t, h.sink.Posted(), 5)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond,
	}, h.clock.Sleeps())
}

func TestDelivery_CancelledWaitIsTransient(t *testing.T) {
	h := newHarness()
	h.sink.script("item", sinkReply{status: 500})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := newEngine(h).Deliver(ctx, candidate("item"))

	assert.Equal(t, core.OutcomeTransient, got)
	assert.Len(t, h.sink.Posted(), 1)
}
