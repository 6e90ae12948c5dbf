package issuer

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkerring/dnscert/acme"
	"github.com/mkerring/dnscert/acme/resources"
)

func TestDecideAuthz(t *testing.T) {
	require.Equal(t, actionDone, decideAuthz(acme.STATUS_VALID))
	require.Equal(t, actionWait, decideAuthz(acme.STATUS_PENDING))
	require.Equal(t, actionFail, decideAuthz(acme.STATUS_INVALID))
	require.Equal(t, actionFail, decideAuthz(acme.STATUS_EXPIRED))
	require.Equal(t, actionFail, decideAuthz("deactivated"))
}

func TestDecideOrderReady(t *testing.T) {
	require.Equal(t, actionDone, decideOrderReady(acme.STATUS_READY))
	require.Equal(t, actionWait, decideOrderReady(acme.STATUS_PENDING))
	// Valid before finalization is a conflict, not progress.
	require.Equal(t, actionFail, decideOrderReady(acme.STATUS_VALID))
	require.Equal(t, actionFail, decideOrderReady(acme.STATUS_INVALID))
}

func TestDecideOrderValid(t *testing.T) {
	require.Equal(t, actionDone, decideOrderValid(acme.STATUS_VALID))
	require.Equal(t, actionWait, decideOrderValid(acme.STATUS_PENDING))
	require.Equal(t, actionWait, decideOrderValid(acme.STATUS_READY))
	require.Equal(t, actionWait, decideOrderValid(acme.STATUS_PROCESSING))
	require.Equal(t, actionFail, decideOrderValid(acme.STATUS_INVALID))
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, 7*time.Second, retryAfter("7", time.Second))

	// An HTTP date becomes a wait relative to now.
	date := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	delay := retryAfter(date, time.Second)
	require.Greater(t, delay, 20*time.Second)
	require.LessOrEqual(t, delay, 30*time.Second)

	// Garbage falls back.
	require.Equal(t, time.Second, retryAfter("soon", time.Second))
}

func TestNextPollDelay(t *testing.T) {
	interval := 5 * time.Second

	require.Equal(t, 5*time.Second, nextPollDelay("", &interval))
	require.Equal(t, 10*time.Second, nextPollDelay("", &interval))
	require.Equal(t, 20*time.Second, nextPollDelay("", &interval))
	require.Equal(t, 40*time.Second, nextPollDelay("", &interval))
	// The doubling caps out.
	require.Equal(t, MAX_POLL_INTERVAL, nextPollDelay("", &interval))
	require.Equal(t, MAX_POLL_INTERVAL, nextPollDelay("", &interval))
}

func TestNextPollDelayRetryAfter(t *testing.T) {
	interval := 5 * time.Second

	// Retry-After overrides the computed interval.
	require.Equal(t, 2*time.Second, nextPollDelay("2", &interval))
	// The interval still advanced underneath.
	require.Equal(t, 10*time.Second, nextPollDelay("", &interval))

	// A date in the past clamps to an immediate poll.
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	require.Equal(t, time.Duration(0), nextPollDelay(past, &interval))
}

func TestWaitForPoll(t *testing.T) {
	ctx := context.Background()

	// The budget is already exhausted.
	err := waitForPoll(ctx, time.Second, time.Now().Add(-time.Second))
	require.ErrorIs(t, err, errPollTimeout)

	// A long delay is clamped to the remaining budget.
	start := time.Now()
	err = waitForPoll(ctx, time.Hour, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	// Cancellation interrupts the wait.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = waitForPoll(cancelled, time.Hour, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, context.Canceled)
}

func TestAuthzProblem(t *testing.T) {
	prob := &resources.Problem{
		Type:   acme.ERROR_TYPE_PREFIX + "dns",
		Detail: "no TXT record found",
		Status: http.StatusBadRequest,
	}
	authz := &resources.Authorization{
		ID:     "https://ca.example.com/authz/1",
		Status: acme.STATUS_INVALID,
		Challenges: []resources.Challenge{
			{Type: acme.CHALLENGE_DNS01, Error: prob},
		},
	}
	// The challenge's problem document is the most specific cause.
	require.ErrorIs(t, authzProblem(authz), prob)

	bare := &resources.Authorization{
		ID:     "https://ca.example.com/authz/2",
		Status: acme.STATUS_EXPIRED,
	}
	err := authzProblem(bare)
	require.Error(t, err)
	require.Contains(t, err.Error(), acme.STATUS_EXPIRED)
}

func TestOrderProblem(t *testing.T) {
	prob := &resources.Problem{
		Type:   acme.ERROR_TYPE_PREFIX + "rateLimited",
		Status: http.StatusTooManyRequests,
	}
	order := &resources.Order{
		ID:     "https://ca.example.com/order/1",
		Status: acme.STATUS_INVALID,
		Error:  prob,
	}
	require.ErrorIs(t, orderProblem(order), prob)

	bare := &resources.Order{
		ID:     "https://ca.example.com/order/2",
		Status: acme.STATUS_INVALID,
	}
	err := orderProblem(bare)
	require.Error(t, err)
	require.Contains(t, err.Error(), acme.STATUS_INVALID)
}
