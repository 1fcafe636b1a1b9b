package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencebot/cadence/pkg/alert"
	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/template"
)

// sampleFeed lets a test swap the series an alert handler returns
// between ticks.
type sampleFeed struct {
	mu      sync.Mutex
	samples []alert.Sample
}

func (f *sampleFeed) set(samples []alert.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = samples
}

func (f *sampleFeed) handler(ctx context.Context, in *message.Parsed, opts HandlerOptions) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]alert.Sample(nil), f.samples...), nil
}

func watchDef(feed *sampleFeed) *Definition {
	return &Definition{
		Name:     "watch",
		Type:     TypeAlert,
		Algo:     alert.CumulativeDifference,
		Template: template.MustText("{{.Command}} alert: diff {{.Difference}}"),
		Handler:  feed.handler,
	}
}

func TestAlertArmInstallsSharedTimerAndPersists(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed)})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "watch", "1", "5"))

	_, live := e.store.Timer("WATCH")
	assert.True(t, live, "shared timer keyed by command name")

	evs := e.store.Events()
	require.Len(t, evs, 1)
	for id, rec := range evs {
		assert.NotEmpty(t, id)
		assert.Equal(t, id, rec.Message.ScheduleID, "record keyed by its scheduleId")
		assert.Equal(t, "watch", rec.Message.Command)
	}

	require.NotEmpty(t, e.rec.texts())
	assert.Contains(t, e.rec.texts()[0], "watch armed")
}

func TestAlertDuplicateSetupRejected(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed)})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "watch", "1", "5"))
	first, _ := e.store.Timer("WATCH")

	e.registry.Dispatch(ctx, msg("C1", "U2", "watch", "1", "5"))

	assert.Contains(t, e.rec.lastText(), "already watching")
	assert.Len(t, e.store.Events(), 1, "duplicate setup persists nothing")
	second, _ := e.store.Timer("WATCH")
	assert.Same(t, first, second, "duplicate setup leaves the timer alone")
}

func TestAlertSecondChannelSharesTimer(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed)})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "watch", "1", "5"))
	first, _ := e.store.Timer("WATCH")

	e.registry.Dispatch(ctx, msg("C2", "U1", "watch", "1", "5"))
	second, _ := e.store.Timer("WATCH")

	assert.Same(t, first, second, "a second channel never resets the cadence")
	assert.Len(t, e.store.Events(), 2)
}

func TestAlertBadSensitivityInstallsNothing(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed)})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "watch", "1", "banana"))

	_, live := e.store.Timer("WATCH")
	assert.False(t, live)
	assert.Empty(t, e.store.Events())
}

func TestAlertTickSeedsBaselineThenFires(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed)})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "watch", "1", "5"))
	armReplies := len(e.rec.texts())

	c, ok := e.registry.Get("watch")
	require.True(t, ok)
	a, ok := c.(*AlertCommand)
	require.True(t, ok)

	t0 := time.Now()
	feed.set([]alert.Sample{{Time: t0, Value: 10}})

	// First tick seeds the baseline and never alerts.
	a.tick()
	assert.Len(t, e.rec.texts(), armReplies)

	// A fresh swing past the threshold fires.
	t1 := t0.Add(time.Minute)
	feed.set([]alert.Sample{{Time: t0, Value: 10}, {Time: t1, Value: 100}})
	a.tick()
	require.Len(t, e.rec.texts(), armReplies+1)
	assert.Equal(t, "watch alert: diff 90", e.rec.lastText())

	// The same series again is stale: no newer timestamp, no re-fire.
	a.tick()
	assert.Len(t, e.rec.texts(), armReplies+1)
}

func TestAlertConsistentVariationTick(t *testing.T) {
	feed := &sampleFeed{}
	def := watchDef(feed)
	def.Algo = alert.ConsistentVariation
	def.Template = template.MustText("{{.Command}} variance {{.Percentage}}%")
	e := newEngine(t, t.TempDir(), []*Definition{def})
	ctx := context.Background()

	// No sensitivity token: variation defaults to 75.
	e.registry.Dispatch(ctx, msg("C1", "U1", "watch", "1"))
	armReplies := len(e.rec.texts())

	a := mustAlert(t, e)

	// Spread below the default threshold: quiet.
	feed.set(seriesOf(1, 2, 3, 2, 4, 6))
	a.tick()
	assert.Len(t, e.rec.texts(), armReplies)

	// Spread of 89 beats 75: fires.
	feed.set(seriesOf(1, 2, 3, 10, 20, 30))
	a.tick()
	require.Len(t, e.rec.texts(), armReplies+1)
	assert.Equal(t, "watch variance 89%", e.rec.lastText())
}

func TestAlertKillChannelStopsTimerWhenLastTaskGoes(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed), killDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "watch", "1", "5"))
	e.registry.Dispatch(ctx, msg("C2", "U1", "watch", "1", "5"))

	e.registry.Dispatch(ctx, msg("C1", "U1", "kill", "watch"))
	assert.Equal(t, "Stopped watch.", e.rec.lastText())
	assert.Len(t, e.store.Events(), 1)
	_, live := e.store.Timer("WATCH")
	assert.True(t, live, "timer survives while another channel watches")

	e.registry.Dispatch(ctx, msg("C2", "U1", "kill", "watch"))
	assert.Empty(t, e.store.Events())
	_, live = e.store.Timer("WATCH")
	assert.False(t, live, "last task takes the timer with it")
}

func TestKillPrefersAlertOverScheduleID(t *testing.T) {
	feed := &sampleFeed{}
	e := newEngine(t, t.TempDir(), []*Definition{watchDef(feed), echoDef(), scheduleDef(), killDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "watch", "1", "5"))
	e.registry.Dispatch(ctx, msg("C1", "U1", "schedule", "echo", "hi", "(*/15", "*", "*", "*", "*)"))
	scheds := e.store.Schedules()
	require.Len(t, scheds, 1)
	var jobID string
	for k := range scheds {
		jobID = k
	}

	// Both a watching alert and a valid schedule id: the alert branch
	// wins and the schedule job survives.
	e.registry.Dispatch(ctx, msg("C1", "U1", "kill", "watch", jobID))

	assert.Equal(t, "Stopped watch.", e.rec.lastText())
	assert.Empty(t, e.store.Events())
	_, live := e.store.Timer(jobID)
	assert.True(t, live)
	assert.Len(t, e.store.Schedules(), 1)
}

func mustAlert(t *testing.T, e *engine) *AlertCommand {
	t.Helper()
	c, ok := e.registry.Get("watch")
	require.True(t, ok)
	a, ok := c.(*AlertCommand)
	require.True(t, ok)
	return a
}

func seriesOf(values ...float64) []alert.Sample {
	base := time.Now()
	out := make([]alert.Sample, len(values))
	for i, v := range values {
		out[i] = alert.Sample{Time: base.Add(time.Duration(i) * time.Second), Value: v}
	}
	return out
}
