package scenario

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ncerr "authclient/internal/errors"
	"authclient/internal/client"
	"authclient/internal/mockserver"
	"authclient/internal/session"
	"authclient/internal/transport"
	"authclient/util"
)

func setup(t *testing.T) (*client.Client, mockserver.Store) {
	t.Helper()
	store := mockserver.NewMemoryStore(bcrypt.MinCost)
	require.NoError(t, mockserver.Seed(context.Background(), store, mockserver.Credential{
		Account:  mockserver.Account{UserID: "S20230001", UserName: "Ada", Role: "student"},
		Password: "initial-pw",
	}))

	srv := mockserver.New(store, nil)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := client.New(session.New(nil), &transport.TCPDialer{Timeout: 2 * time.Second}, srv.Addr(),
		client.WithLoginRate(0, 0))
	t.Cleanup(func() { c.Close() })
	return c, store
}

func names(rep *Report) []string {
	var out []string
	for _, s := range rep.Steps {
		out = append(out, s.Name)
	}
	return out
}

func TestRun_Success(t *testing.T) {
	c, store := setup(t)
	var buf bytes.Buffer
	logger := util.NewLogger(2)
	logger.SetOutput(&buf)

	r := &Runner{Client: c, UserID: "S20230001", Password: "initial-pw", NewPassword: "changed-pw", Logger: logger}
	rep, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{StepConnect, StepLogin, StepChangePassword, StepVerify, StepRestore, StepCleanup}, names(rep))
	require.Nil(t, rep.Failed())
	require.Equal(t, session.PhaseEmpty, rep.FinalPhase)
	require.Contains(t, rep.String(), "final session phase: empty")
	require.Contains(t, buf.String(), "[VRB] scenario: cleanup ok")

	// The original password is back in place.
	_, err = store.Verify(context.Background(), "S20230001", "initial-pw")
	require.NoError(t, err)
}

func TestRun_LoginFailureStillCleansUp(t *testing.T) {
	c, _ := setup(t)

	r := &Runner{Client: c, UserID: "S20230001", Password: "wrong-pw", NewPassword: "changed-pw"}
	rep, err := r.Run(context.Background())
	require.ErrorIs(t, err, ncerr.ErrAuthFailed)

	require.Equal(t, []string{StepConnect, StepLogin, StepCleanup}, names(rep))
	require.Equal(t, StepLogin, rep.Failed().Name)
	require.Equal(t, session.PhaseEmpty, rep.FinalPhase)
	require.False(t, c.State().IsConnected())
	require.True(t, strings.Contains(rep.String(), "FAILED"))
}

func TestRun_WeakNewPassword(t *testing.T) {
	c, store := setup(t)

	r := &Runner{Client: c, UserID: "S20230001", Password: "initial-pw", NewPassword: "abc"}
	rep, err := r.Run(context.Background())
	require.ErrorIs(t, err, ncerr.ErrPasswordRejected)

	// Nothing was changed, so nothing is restored.
	require.Equal(t, []string{StepConnect, StepLogin, StepChangePassword, StepCleanup}, names(rep))
	_, err = store.Verify(context.Background(), "S20230001", "initial-pw")
	require.NoError(t, err)
}

func TestRun_RejectsSamePassword(t *testing.T) {
	r := &Runner{UserID: "S20230001", Password: "initial-pw", NewPassword: "initial-pw"}
	rep, err := r.Run(context.Background())
	require.Error(t, err)
	require.Nil(t, rep)
}

func TestRun_ConnectFailure(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)
	c := client.New(session.New(nil), &transport.TCPDialer{Timeout: time.Second}, util.FormatAddr("127.0.0.1", port))

	r := &Runner{Client: c, UserID: "S20230001", Password: "initial-pw", NewPassword: "changed-pw"}
	rep, err := r.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{StepConnect, StepCleanup}, names(rep))
	require.Equal(t, session.PhaseEmpty, rep.FinalPhase)
}

// cancelOn cancels a context when a log line containing marker is
// written.
type cancelOn struct {
	marker string
	cancel context.CancelFunc
}

func (c *cancelOn) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte(c.marker)) {
		c.cancel()
	}
	return len(p), nil
}

func TestRun_RestoresAfterCancel(t *testing.T) {
	c, store := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := util.NewLogger(2)
	logger.SetOutput(&cancelOn{marker: "change-password ok", cancel: cancel})

	r := &Runner{Client: c, UserID: "S20230001", Password: "initial-pw", NewPassword: "changed-pw",
		Logger: logger, CleanupTimeout: 5 * time.Second}
	rep, err := r.Run(ctx)
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	require.Equal(t, []string{StepConnect, StepLogin, StepChangePassword, StepVerify, StepRestore, StepCleanup}, names(rep))
	require.Equal(t, StepVerify, rep.Failed().Name)
	require.NoError(t, rep.Steps[4].Err)
	require.NoError(t, rep.Steps[5].Err)
	require.Equal(t, session.PhaseEmpty, rep.FinalPhase)

	_, err = store.Verify(context.Background(), "S20230001", "initial-pw")
	require.NoError(t, err)
}
