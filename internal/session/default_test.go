package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"authclient/util"
)

// TestDefault_ConcurrentFirstAccess starts many goroutines behind a
// barrier so they all race on an unbuilt instance.
func TestDefault_ConcurrentFirstAccess(t *testing.T) {
	ResetDefaultForTesting()
	t.Cleanup(ResetDefaultForTesting)

	before := constructed.Load()

	const n = 100
	results := make([]*State, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = Default()
		}(i)
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, constructed.Load()-before)
	for i := 1; i < n; i++ {
		require.Same(t, results[0], results[i])
	}
	require.Equal(t, PhaseEmpty, results[0].Phase())
}

func TestDefault_StableAcrossCalls(t *testing.T) {
	ResetDefaultForTesting()
	t.Cleanup(ResetDefaultForTesting)

	a := Default()
	a.SetUserID("S20230001")
	require.Same(t, a, Default())
	require.Equal(t, "S20230001", Default().UserID())
}

func TestResetDefault_FreshInstance(t *testing.T) {
	ResetDefaultForTesting()
	t.Cleanup(ResetDefaultForTesting)

	old := Default()
	tr := newTriple()
	tr.install(old)
	old.SetIdentity(Identity{"S20230001", "Ada", "student"})

	ResetDefaultForTesting()

	// The retired instance was cleared on the way out.
	require.True(t, tr.socket.IsClosed())
	require.Equal(t, PhaseEmpty, old.Phase())

	fresh := Default()
	require.NotSame(t, old, fresh)
	require.Equal(t, PhaseEmpty, fresh.Phase())
	require.False(t, fresh.IsConnected())
	require.Equal(t, "", fresh.UserID())
}

func TestResetDefault_WithoutInstance(t *testing.T) {
	ResetDefaultForTesting()
	require.NotPanics(t, ResetDefaultForTesting)
	t.Cleanup(ResetDefaultForTesting)

	require.NotNil(t, Default())
}

func TestResetDefault_RacesWithDefault(t *testing.T) {
	ResetDefaultForTesting()
	t.Cleanup(ResetDefaultForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if Default() == nil {
				t.Error("Default returned nil")
			}
		}()
		go func() {
			defer wg.Done()
			ResetDefaultForTesting()
		}()
	}
	wg.Wait()
}

// TestDefault_LoginLogoutScenario walks one session through connect,
// login, logout and a hard reset on the process-wide instance.
func TestDefault_LoginLogoutScenario(t *testing.T) {
	ResetDefaultForTesting()
	t.Cleanup(ResetDefaultForTesting)

	// (a) connect and identify.
	s := Default()
	s.SetIdentity(Identity{UserID: "S20230001"})
	tr := newTriple()
	s.SetConnection(tr.socket, tr.output, tr.input)
	require.True(t, s.IsConnected())

	// (b) logical logout on the same instance.
	require.Nil(t, s.Clear())
	require.False(t, s.IsConnected())
	require.Equal(t, "", s.UserID())
	require.Same(t, s, Default())

	// (c) hard reset.
	ResetDefaultForTesting()
	next := Default()
	require.NotSame(t, s, next)
	require.False(t, next.IsConnected())
}

func TestSetDefaultLogger(t *testing.T) {
	ResetDefaultForTesting()
	t.Cleanup(func() {
		SetDefaultLogger(nil)
		ResetDefaultForTesting()
	})

	var buf bytes.Buffer
	logger := util.NewLogger(1)
	logger.SetOutput(&buf)
	SetDefaultLogger(logger)

	s := Default()
	tr := newTriple()
	tr.output.err = errors.New("broken pipe")
	tr.install(s)
	s.Clear()

	require.Contains(t, buf.String(), "[WRN] session: close output stream: broken pipe")
}
