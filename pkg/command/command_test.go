package command

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencebot/cadence/pkg/message"
	"github.com/cadencebot/cadence/pkg/sched"
	"github.com/cadencebot/cadence/pkg/store"
	"github.com/cadencebot/cadence/pkg/transport"
	"github.com/cadencebot/cadence/pkg/validation"
)

// recorder captures engine-emitted replies in order.
type recorder struct {
	mu      sync.Mutex
	replies []transport.Reply
}

func (r *recorder) emit(rep transport.Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, rep)
}

// texts returns the non-typing reply texts, in order.
func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rep := range r.replies {
		if !rep.Typing && rep.Text != "" {
			out = append(out, rep.Text)
		}
	}
	return out
}

func (r *recorder) lastText() string {
	t := r.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

func (r *recorder) typingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rep := range r.replies {
		if rep.Typing {
			n++
		}
	}
	return n
}

func (r *recorder) dataReplies() []transport.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []transport.Reply
	for _, rep := range r.replies {
		if rep.Data != nil {
			out = append(out, rep)
		}
	}
	return out
}

type engine struct {
	registry *Registry
	store    *store.Store
	rec      *recorder
}

// newEngine builds a registry over a file store in dir. Tests that
// simulate a restart build a second engine over the same dir.
func newEngine(t *testing.T, dir string, defs []*Definition) *engine {
	t.Helper()
	fs, err := store.NewFileStorage(dir)
	require.NoError(t, err)
	st := store.New("cadence", fs)
	rec := &recorder{}
	reg, err := NewRegistry("cadence", defs, st, sched.New(), rec.emit)
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)
	return &engine{registry: reg, store: st, rec: rec}
}

func msg(channel, user, command string, params ...string) *message.Parsed {
	return &message.Parsed{Channel: channel, User: user, Command: command, Params: params}
}

func echoDef() *Definition {
	return &Definition{
		Name: "echo",
		Type: TypeData,
		Handler: func(ctx context.Context, in *message.Parsed, opts HandlerOptions) (interface{}, error) {
			return strings.Join(in.Params, " "), nil
		},
	}
}

func uptimeDef() *Definition {
	return &Definition{
		Name: "uptime",
		Type: TypeRecursive,
		Handler: func(ctx context.Context, in *message.Parsed, opts HandlerOptions) (interface{}, error) {
			return "all systems nominal", nil
		},
	}
}

func killDef() *Definition {
	return &Definition{Name: "kill", Type: TypeKill}
}

func scheduleDef() *Definition {
	return &Definition{Name: "schedule", Type: TypeSchedule}
}

// --- registry construction ---

func TestNewRegistryFailsFast(t *testing.T) {
	fs, err := store.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	st := store.New("cadence", fs)
	emit := func(transport.Reply) {}

	_, err = NewRegistry("cadence", []*Definition{
		{Name: "broken", Type: TypeData},
	}, st, sched.New(), emit)
	assert.Error(t, err, "data command without handler")

	_, err = NewRegistry("cadence", []*Definition{
		{Name: "x", Type: "bogus", Handler: echoDef().Handler},
	}, st, sched.New(), emit)
	assert.Error(t, err, "unknown type")

	_, err = NewRegistry("cadence", []*Definition{
		echoDef(),
		{Name: "Echo", Type: TypeData, Handler: echoDef().Handler},
	}, st, sched.New(), emit)
	assert.Error(t, err, "case-insensitive duplicate name")
}

// --- dispatch ---

func TestDispatchRunsDataCommand(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{echoDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "echo", "hello", "world"))

	assert.Equal(t, 1, e.rec.typingCount(), "typing presence precedes the reply")
	assert.Equal(t, []string{"hello world"}, e.rec.texts())
	assert.Empty(t, e.store.Events(), "one-shot commands persist nothing")
}

func TestDispatchMatchesCaseInsensitively(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{echoDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "ECHO", "hi"))

	assert.Equal(t, []string{"hi"}, e.rec.texts())
}

func TestDispatchDropsUnknownCommand(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{echoDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "nope"))

	assert.Empty(t, e.rec.texts())
	assert.Zero(t, e.rec.typingCount())
}

func TestDispatchRejectsRestrictedUser(t *testing.T) {
	def := echoDef()
	def.AllowedUsers = []string{"U1"}
	e := newEngine(t, t.TempDir(), []*Definition{def})

	e.registry.Dispatch(context.Background(), msg("C1", "U2", "echo", "hi"))
	require.Len(t, e.rec.texts(), 1)
	assert.Contains(t, e.rec.lastText(), "not allowed")
	assert.Zero(t, e.rec.typingCount(), "rejections skip the typing event")

	// Allow-list matching folds case.
	e.registry.Dispatch(context.Background(), msg("C1", "u1", "echo", "hi"))
	assert.Equal(t, "hi", e.rec.lastText())
}

func TestDispatchRejectsRestrictedChannel(t *testing.T) {
	def := echoDef()
	def.AllowedChannels = []string{"C-ops"}
	e := newEngine(t, t.TempDir(), []*Definition{def})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "echo", "hi"))

	require.Len(t, e.rec.texts(), 1)
	assert.Contains(t, e.rec.lastText(), "cannot run in this channel")
}

func TestDispatchRendersParamHelp(t *testing.T) {
	def := &Definition{
		Name: "deploy",
		Type: TypeData,
		Validation: []validation.Rule{{
			Schema: []validation.Position{validation.Literal("prod", "staging")},
			Help:   []validation.Help{{Sample: "prod"}},
		}},
		Handler: func(ctx context.Context, in *message.Parsed, opts HandlerOptions) (interface{}, error) {
			return "deploying " + in.Param(0), nil
		},
	}
	e := newEngine(t, t.TempDir(), []*Definition{def})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "deploy", "banana"))
	require.Len(t, e.rec.texts(), 1)
	assert.Contains(t, e.rec.lastText(), "try one of prod, staging")
	assert.Contains(t, e.rec.lastText(), "usage: deploy prod")

	// A leading help token forces the same usage path.
	e.registry.Dispatch(context.Background(), msg("C1", "U1", "deploy", "help"))
	assert.Contains(t, e.rec.lastText(), "usage: deploy prod")
}

func TestDispatchNilHandlerResultEmitsNothing(t *testing.T) {
	def := &Definition{
		Name: "fire-and-forget",
		Type: TypeData,
		Handler: func(ctx context.Context, in *message.Parsed, opts HandlerOptions) (interface{}, error) {
			return nil, nil
		},
	}
	e := newEngine(t, t.TempDir(), []*Definition{def})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "fire-and-forget"))

	assert.Equal(t, 1, e.rec.typingCount())
	assert.Empty(t, e.rec.texts())
}

func TestDataFileResponseCarriesRawData(t *testing.T) {
	def := &Definition{
		Name:         "report",
		Type:         TypeData,
		ResponseType: ResponseFile,
		Handler: func(ctx context.Context, in *message.Parsed, opts HandlerOptions) (interface{}, error) {
			return []byte("csv,data"), nil
		},
	}
	e := newEngine(t, t.TempDir(), []*Definition{def})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "report"))

	data := e.rec.dataReplies()
	require.Len(t, data, 1)
	assert.Equal(t, []byte("csv,data"), data[0].Data)
	assert.Equal(t, "report", data[0].CommandName)
	assert.Empty(t, e.rec.texts())
}

// --- interval derivation ---

func TestIntervalDerivation(t *testing.T) {
	tests := []struct {
		name     string
		tok      string
		fallback int
		unit     string
		want     time.Duration
	}{
		{name: "explicit minutes", tok: "3", fallback: 5, want: 3 * time.Minute},
		{name: "absent token uses fallback", tok: "", fallback: 5, want: 5 * time.Minute},
		{name: "non-numeric uses fallback", tok: "soon", fallback: 5, want: 5 * time.Minute},
		{name: "zero uses fallback", tok: "0", fallback: 5, want: 5 * time.Minute},
		{name: "negative uses fallback", tok: "-2", fallback: 5, want: 5 * time.Minute},
		{name: "no fallback means one minute", tok: "", want: time.Minute},
		{name: "hour unit multiplies", tok: "2", unit: "h", want: 120 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &base{def: &Definition{TimeInterval: tt.fallback, TimeUnit: tt.unit}}
			assert.Equal(t, tt.want, b.interval(tt.tok))
		})
	}
}

// --- recursive ---

func TestRecursiveInstallsTimerAndPersists(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "uptime", "5"))

	_, live := e.store.Timer("C1_UPTIME")
	assert.True(t, live)

	evs := e.store.Events()
	require.Contains(t, evs, "C1_UPTIME")
	assert.Equal(t, "uptime", evs["C1_UPTIME"].Message.Command)
	assert.Equal(t, []string{"C1"}, evs["C1_UPTIME"].Channels)

	require.NotEmpty(t, e.rec.texts())
	assert.Contains(t, e.rec.texts()[0], "uptime now runs every 5m")
}

func TestRecursiveDefaultInterval(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "uptime"))

	require.NotEmpty(t, e.rec.texts())
	assert.Contains(t, e.rec.texts()[0], "every 1m0s")
}

func TestRecursiveReissueReplacesTimer(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "uptime", "5"))
	first, _ := e.store.Timer("C1_UPTIME")

	e.registry.Dispatch(ctx, msg("C1", "U1", "uptime", "10"))
	second, live := e.store.Timer("C1_UPTIME")

	require.True(t, live)
	assert.True(t, first.Stopped(), "old timer stops on re-issue")
	assert.NotSame(t, first, second)
	assert.Len(t, e.store.Events(), 1, "one durable record per channel+command")
}

func TestRecursiveTimersArePerChannel(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "uptime", "5"))
	e.registry.Dispatch(ctx, msg("C2", "U1", "uptime", "5"))

	_, live1 := e.store.Timer("C1_UPTIME")
	_, live2 := e.store.Timer("C2_UPTIME")
	assert.True(t, live1)
	assert.True(t, live2)
	assert.Len(t, e.store.Events(), 2)
}

func TestQuietRespondSkipsSetupSteps(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef()})

	c, ok := e.registry.Get("uptime")
	require.True(t, ok)

	QuietRespond(context.Background(), c, msg("C1", "U1", "uptime", "5"))

	assert.Equal(t, []string{"all systems nominal"}, e.rec.texts(),
		"tick path emits only the handler result, no setup confirmation")
	_, live := e.store.Timer("C1_UPTIME")
	assert.False(t, live, "tick path never installs timers")
	assert.Empty(t, e.store.Events(), "tick path never persists")
}

// --- kill ---

func TestKillStopsRecursiveTimer(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef(), killDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "uptime", "5"))
	h, _ := e.store.Timer("C1_UPTIME")

	e.registry.Dispatch(ctx, msg("C1", "U1", "kill", "uptime"))

	assert.Equal(t, "Stopped uptime.", e.rec.lastText())
	assert.True(t, h.Stopped())
	_, live := e.store.Timer("C1_UPTIME")
	assert.False(t, live)
	assert.Empty(t, e.store.Events(), "durable record removed with the timer")
}

func TestKillIsChannelScoped(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef(), killDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "uptime", "5"))
	e.registry.Dispatch(ctx, msg("C2", "U1", "uptime", "5"))

	e.registry.Dispatch(ctx, msg("C1", "U1", "kill", "uptime"))

	_, live1 := e.store.Timer("C1_UPTIME")
	_, live2 := e.store.Timer("C2_UPTIME")
	assert.False(t, live1)
	assert.True(t, live2, "the other channel's timer is untouched")
}

func TestKillScheduleByID(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{echoDef(), scheduleDef(), killDef()})
	ctx := context.Background()

	e.registry.Dispatch(ctx, msg("C1", "U1", "schedule", "echo", "hi", "(*/15", "*", "*", "*", "*)"))
	scheds := e.store.Schedules()
	require.Len(t, scheds, 1)
	var id string
	for k := range scheds {
		id = k
	}

	e.registry.Dispatch(ctx, msg("C1", "U1", "kill", "echo", id))

	assert.Equal(t, "Stopped echo.", e.rec.lastText())
	_, live := e.store.Timer(id)
	assert.False(t, live)
	assert.Empty(t, e.store.Schedules())
}

func TestKillUnknownScheduleReports(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{echoDef(), killDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "kill", "echo", "ghost-id"))

	assert.Equal(t, "No schedule ghost-id found for echo.", e.rec.lastText())
}

func TestKillWithNothingRunning(t *testing.T) {
	e := newEngine(t, t.TempDir(), []*Definition{uptimeDef(), killDef()})

	e.registry.Dispatch(context.Background(), msg("C1", "U1", "kill", "uptime"))

	assert.Equal(t, "Nothing to stop for uptime here.", e.rec.lastText())
}
