package metering_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockpress/mockpress/pkg/metering"
	"github.com/mockpress/mockpress/storage/memory"
)

const testCredential = "AIzaSyTestCredential0123456789"

func okGenerator() metering.Generator {
	return metering.GeneratorFunc(func(_ context.Context, topic, _ string) (*metering.GenerateResult, error) {
		return &metering.GenerateResult{Success: true, Content: "BREAKING: " + topic}, nil
	})
}

func newTestMeter(t *testing.T, store *memory.Store, config metering.Config) *metering.Meter {
	t.Helper()
	if config.Generator == nil {
		config.Generator = okGenerator()
	}
	meter, err := metering.NewMeter(store, store, config)
	require.NoError(t, err)
	return meter
}

func TestMeter_DailyStatus(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits: metering.Limits{PerMinute: 10, PerHour: 60, PerDay: 2},
		Clock:  clock,
	})
	ctx := context.Background()

	status := meter.DailyStatus(ctx, "client1")
	assert.Equal(t, 2, status.Remaining)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), status.ResetTime)
	assert.False(t, status.HasCustomKey)

	meter.CheckAndConsumeDaily(ctx, "client1")
	status = meter.DailyStatus(ctx, "client1")
	assert.Equal(t, 1, status.Remaining)
	assert.Equal(t, 2, status.Total)
}

func TestMeter_DailyStatus_UnlimitedSentinel(t *testing.T) {
	meter := newTestMeter(t, memory.New(), metering.Config{Clock: newFakeClock(time.Now())})
	ctx := context.Background()

	require.NoError(t, meter.SetCredential(ctx, "client1", testCredential))

	status := meter.DailyStatus(ctx, "client1")
	assert.Equal(t, -1, status.Remaining)
	assert.Equal(t, -1, status.Total)
	assert.True(t, status.HasCustomKey)
}

func TestMeter_CheckAndConsumeDaily(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits: metering.Limits{PerMinute: 10, PerHour: 60, PerDay: 2},
		Clock:  clock,
	})
	ctx := context.Background()

	assert.True(t, meter.CheckAndConsumeDaily(ctx, "client1").Allowed)
	assert.True(t, meter.CheckAndConsumeDaily(ctx, "client1").Allowed)

	result := meter.CheckAndConsumeDaily(ctx, "client1")
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Message, "day")

	// The denial lands in the audit trail
	assert.Equal(t, 1, meter.Stats(1).RateLimitHits)
}

func TestMeter_CheckAndConsume_CredentialBypasses(t *testing.T) {
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits: metering.Limits{PerMinute: 1, PerHour: 1, PerDay: 1},
		Clock:  newFakeClock(time.Now()),
	})
	ctx := context.Background()

	require.NoError(t, meter.SetCredential(ctx, "client1", testCredential))

	for i := 0; i < 5; i++ {
		result := meter.CheckAndConsumeDaily(ctx, "client1")
		assert.True(t, result.Allowed)
		assert.Equal(t, -1, result.Remaining)
	}
}

func TestMeter_TrialStatus(t *testing.T) {
	meter := newTestMeter(t, memory.New(), metering.Config{
		MaxFreeAttempts: 2,
		Clock:           newFakeClock(time.Now()),
	})
	ctx := context.Background()

	st := meter.TrialStatus(ctx, "client1")
	assert.Equal(t, 0, st.Used)
	assert.Equal(t, 2, st.Remaining)
	assert.True(t, st.TrialMode)
}

func TestMeter_SetCredential_LeavesTrialMode(t *testing.T) {
	meter := newTestMeter(t, memory.New(), metering.Config{Clock: newFakeClock(time.Now())})
	ctx := context.Background()

	require.NoError(t, meter.SetCredential(ctx, "client1", testCredential))
	assert.False(t, meter.TrialStatus(ctx, "client1").TrialMode)
}

func TestMeter_SetCredential_ScopedToClient(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 2},
		MaxFreeAttempts: 2,
		Clock:           clock,
	})
	ctx := context.Background()

	require.NoError(t, meter.SetCredential(ctx, "clientA", testCredential))

	// Only clientA is unlimited
	assert.True(t, meter.HasCredential(ctx, "clientA"))
	assert.Equal(t, -1, meter.DailyStatus(ctx, "clientA").Remaining)

	// clientB keeps its own trial gating and day window
	assert.False(t, meter.HasCredential(ctx, "clientB"))
	statusB := meter.DailyStatus(ctx, "clientB")
	assert.False(t, statusB.HasCustomKey)
	assert.Equal(t, 2, statusB.Remaining)
	assert.True(t, meter.TrialStatus(ctx, "clientB").TrialMode)

	// clientB's window checks are still enforced
	meter.CheckAndConsumeDaily(ctx, "clientB")
	meter.CheckAndConsumeDaily(ctx, "clientB")
	denied := meter.CheckAndConsumeDaily(ctx, "clientB")
	assert.False(t, denied.Allowed)

	// Removing clientA's credential never touches clientB's state
	meter.RemoveCredential(ctx, "clientA")
	assert.False(t, meter.HasCredential(ctx, "clientA"))
	assert.Equal(t, 0, meter.DailyStatus(ctx, "clientB").Remaining)
}

func TestMeter_SetCredential_RejectsMalformed(t *testing.T) {
	meter := newTestMeter(t, memory.New(), metering.Config{Clock: newFakeClock(time.Now())})

	err := meter.SetCredential(context.Background(), "client1", "short")
	assert.ErrorIs(t, err, metering.ErrInvalidCredential)
	assert.False(t, meter.HasCredential(context.Background(), "client1"))
}

func TestMeter_RemoveCredential_ResumesTrialCount(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 2,
		Clock:           clock,
	})
	ctx := context.Background()

	// Burn one trial attempt, then switch to a custom credential
	outcome := meter.Generate(ctx, "client1", "moon cheese")
	require.True(t, outcome.Success)
	require.NoError(t, meter.SetCredential(ctx, "client1", testCredential))

	// Credential generations do not touch the ledger
	outcome = meter.Generate(ctx, "client1", "sky squid")
	require.True(t, outcome.Success)
	assert.False(t, outcome.TrialMode)
	assert.Equal(t, 1, meter.Ledger().Status(ctx, "client1").Used)

	// Removing the credential resumes from used=1, not a fresh cap
	meter.RemoveCredential(ctx, "client1")
	st := meter.TrialStatus(ctx, "client1")
	assert.True(t, st.TrialMode)
	assert.Equal(t, 1, st.Used)
	assert.Equal(t, 1, st.Remaining)
}

func TestMeter_CredentialPersistsAcrossInstances(t *testing.T) {
	store := memory.New()
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first := newTestMeter(t, store, metering.Config{Clock: clock})
	require.NoError(t, first.SetCredential(ctx, "client1", testCredential))

	second := newTestMeter(t, store, metering.Config{Clock: clock})
	assert.True(t, second.HasCredential(ctx, "client1"))
}

func TestMeter_Generate_TrialScenario(t *testing.T) {
	// maxFreeAttempts=2, no credential: two successes, then rejection
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 2,
		Clock:           clock,
	})
	ctx := context.Background()

	outcome := meter.Generate(ctx, "client1", "moon cheese")
	require.True(t, outcome.Success)
	assert.True(t, outcome.TrialMode)
	st := meter.TrialStatus(ctx, "client1")
	assert.Equal(t, 1, st.Used)
	assert.Equal(t, 1, st.Remaining)

	outcome = meter.Generate(ctx, "client1", "sky squid")
	require.True(t, outcome.Success)
	st = meter.TrialStatus(ctx, "client1")
	assert.Equal(t, 2, st.Used)
	assert.Equal(t, 0, st.Remaining)

	// Third call is rejected before the generation call runs
	called := false
	meter2, err := metering.NewMeter(memory.New(), memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 2,
		Clock:           clock,
		Generator: metering.GeneratorFunc(func(context.Context, string, string) (*metering.GenerateResult, error) {
			called = true
			return &metering.GenerateResult{Success: true}, nil
		}),
	})
	require.NoError(t, err)
	meter2.Ledger().ConsumeOne(ctx, "client1")
	meter2.Ledger().ConsumeOne(ctx, "client1")

	outcome = meter2.Generate(ctx, "client1", "sea geese")
	assert.False(t, outcome.Success)
	assert.True(t, outcome.NeedsCredential)
	assert.False(t, called, "generation must not run once the trial is exhausted")
}

func TestMeter_Generate_CredentialBypassesTrial(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 2,
		Clock:           clock,
	})
	ctx := context.Background()

	// Exhaust the trial
	meter.Ledger().ConsumeOne(ctx, "client1")
	meter.Ledger().ConsumeOne(ctx, "client1")
	require.NoError(t, meter.SetCredential(ctx, "client1", testCredential))

	outcome := meter.Generate(ctx, "client1", "moon cheese")
	assert.True(t, outcome.Success)
	assert.False(t, outcome.TrialMode)
	// Ledger untouched
	assert.Equal(t, 2, meter.Ledger().Status(ctx, "client1").Used)
}

func TestMeter_Generate_MinuteThrottle(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 30, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 1, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 10,
		Clock:           clock,
	})
	ctx := context.Background()

	require.True(t, meter.Generate(ctx, "client1", "moon cheese").Success)

	outcome := meter.Generate(ctx, "client1", "sky squid")
	assert.False(t, outcome.Success)
	assert.True(t, outcome.RateLimited)
	assert.Contains(t, outcome.Error, "minute")
	// Throttled call consumed no trial attempt
	assert.Equal(t, 1, meter.Ledger().Status(ctx, "client1").Used)
}

func TestMeter_Generate_UpstreamFailure(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 2,
		Clock:           clock,
		Generator: metering.GeneratorFunc(func(context.Context, string, string) (*metering.GenerateResult, error) {
			return &metering.GenerateResult{Success: false, Error: "upstream quota exhausted"}, nil
		}),
	})
	ctx := context.Background()

	outcome := meter.Generate(ctx, "client1", "moon cheese")
	assert.False(t, outcome.Success)
	// An upstream failure is not a rate limit; its text surfaces verbatim
	assert.False(t, outcome.RateLimited)
	assert.Equal(t, "upstream quota exhausted", outcome.Error)
	// A failed generation consumes no trial attempt but is audited as a failure
	assert.Equal(t, 0, meter.Ledger().Status(ctx, "client1").Used)
	assert.Equal(t, 1, meter.Stats(1).Failures)
}

func TestMeter_Generate_GeneratorError(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 2,
		Clock:           clock,
		Generator: metering.GeneratorFunc(func(context.Context, string, string) (*metering.GenerateResult, error) {
			return nil, errors.New("connection refused")
		}),
	})
	ctx := context.Background()

	outcome := meter.Generate(ctx, "client1", "moon cheese")
	assert.False(t, outcome.Success)
	assert.Equal(t, "connection refused", outcome.Error)
	assert.Equal(t, 0, meter.Ledger().Status(ctx, "client1").Used)
}

func TestMeter_Generate_PassesCredentialToGenerator(t *testing.T) {
	var seen string
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits: metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		Clock:  clock,
		Generator: metering.GeneratorFunc(func(_ context.Context, _, credential string) (*metering.GenerateResult, error) {
			seen = credential
			return &metering.GenerateResult{Success: true, Content: "ok"}, nil
		}),
	})
	ctx := context.Background()

	meter.Generate(ctx, "client1", "moon cheese")
	assert.Empty(t, seen)

	require.NoError(t, meter.SetCredential(ctx, "client1", testCredential))
	meter.Generate(ctx, "client1", "moon cheese")
	assert.Equal(t, testCredential, seen)
}

func TestMeter_Generate_AuditsFullFlow(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	meter := newTestMeter(t, memory.New(), metering.Config{
		Limits:          metering.Limits{PerMinute: 100, PerHour: 100, PerDay: 100},
		MaxFreeAttempts: 5,
		Clock:           clock,
	})
	ctx := context.Background()

	meter.Generate(ctx, "client1", "moon cheese")

	stats := meter.Stats(1)
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 1, stats.Successes)
	assert.Zero(t, stats.Failures)
}
