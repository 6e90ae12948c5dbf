package issuer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/mkerring/dnscert/acme"
	"github.com/mkerring/dnscert/acme/resources"
)

// errPollTimeout reports a poll loop that ran out of its wall-clock budget
// before the resource concluded.
var errPollTimeout = errors.New("issuer: gave up waiting for a status change")

// action is the next step a poll loop takes given a resource's status.
type action int

const (
	// actionWait keeps polling: the resource hasn't concluded yet.
	actionWait action = iota
	// actionDone stops polling: the resource reached the wanted state.
	actionDone
	// actionFail stops polling: the resource can no longer reach it.
	actionFail
)

// decideAuthz maps an authorization status to the poll loop's next step.
// Anything that is neither pending nor valid (invalid, expired, deactivated,
// revoked) can not recover.
func decideAuthz(status string) action {
	switch status {
	case acme.STATUS_VALID:
		return actionDone
	case acme.STATUS_PENDING:
		return actionWait
	default:
		return actionFail
	}
}

// decideOrderReady maps an order status to the poll loop's next step while
// waiting for the order to become ready to finalize.
func decideOrderReady(status string) action {
	switch status {
	case acme.STATUS_READY:
		return actionDone
	case acme.STATUS_PENDING:
		return actionWait
	default:
		return actionFail
	}
}

// decideOrderValid maps an order status to the poll loop's next step after
// finalization, on the way to certificate issuance.
func decideOrderValid(status string) action {
	switch status {
	case acme.STATUS_VALID:
		return actionDone
	case acme.STATUS_PENDING, acme.STATUS_READY, acme.STATUS_PROCESSING:
		return actionWait
	default:
		return actionFail
	}
}

// awaitAuthorization polls the given authorization until it concludes. The
// authorization is expected to be freshly fetched; its current status is
// inspected before the first poll.
func (i *Issuer) awaitAuthorization(ctx context.Context, authz *resources.Authorization) error {
	deadline := time.Now().Add(i.opts.AuthorizationTimeout)
	interval := i.opts.PollInterval
	retryHeader := ""

	for {
		switch decideAuthz(authz.Status) {
		case actionDone:
			log.Printf("Authorization for %q is valid\n", authz.Identifier.Value)
			return nil
		case actionFail:
			return authzProblem(authz)
		case actionWait:
		}

		if err := waitForPoll(ctx, nextPollDelay(retryHeader, &interval), deadline); err != nil {
			return err
		}

		resp, err := i.client.UpdateAuthz(ctx, authz)
		if err != nil {
			return err
		}
		retryHeader = resp.Response.Header.Get("Retry-After")
	}
}

// awaitOrderReady polls the given order until it is ready to finalize. The
// order is expected to be freshly fetched.
func (i *Issuer) awaitOrderReady(ctx context.Context, order *resources.Order) error {
	deadline := time.Now().Add(i.opts.FinalizeTimeout)
	interval := i.opts.PollInterval
	retryHeader := ""

	for {
		switch decideOrderReady(order.Status) {
		case actionDone:
			return nil
		case actionFail:
			if order.Status == acme.STATUS_VALID {
				return fmt.Errorf(
					"issuer: order %q was already valid before finalization", order.ID)
			}
			return orderProblem(order)
		case actionWait:
		}

		if err := waitForPoll(ctx, nextPollDelay(retryHeader, &interval), deadline); err != nil {
			return err
		}

		resp, err := i.client.UpdateOrder(ctx, order)
		if err != nil {
			return err
		}
		retryHeader = resp.Response.Header.Get("Retry-After")
	}
}

// awaitOrderValid polls the given order until the CA has issued the
// certificate. The order is expected to hold the finalize response already.
func (i *Issuer) awaitOrderValid(ctx context.Context, order *resources.Order) error {
	deadline := time.Now().Add(i.opts.FinalizeTimeout)
	interval := i.opts.PollInterval
	retryHeader := ""

	for {
		switch decideOrderValid(order.Status) {
		case actionDone:
			log.Printf("Order %q is valid\n", order.ID)
			return nil
		case actionFail:
			return orderProblem(order)
		case actionWait:
		}

		if err := waitForPoll(ctx, nextPollDelay(retryHeader, &interval), deadline); err != nil {
			return err
		}

		resp, err := i.client.UpdateOrder(ctx, order)
		if err != nil {
			return err
		}
		retryHeader = resp.Response.Header.Get("Retry-After")
	}
}

// authzProblem surfaces the most specific cause for a concluded
// authorization: the dns-01 challenge's problem document when the server
// attached one.
func authzProblem(authz *resources.Authorization) error {
	if chall, ok := authz.DNS01Challenge(); ok && chall.Error != nil {
		return chall.Error
	}
	return fmt.Errorf("authorization %q concluded with status %q", authz.ID, authz.Status)
}

// orderProblem surfaces the order's problem document when the server
// attached one.
func orderProblem(order *resources.Order) error {
	if order.Error != nil {
		return order.Error
	}
	return fmt.Errorf("order %q concluded with status %q", order.ID, order.Status)
}

// nextPollDelay returns the wait before the next poll: the server's
// Retry-After hint when present and parseable, otherwise the current
// interval. The interval doubles each call, capped at MAX_POLL_INTERVAL.
func nextPollDelay(retryHeader string, interval *time.Duration) time.Duration {
	delay := *interval
	*interval *= 2
	if *interval > MAX_POLL_INTERVAL {
		*interval = MAX_POLL_INTERVAL
	}
	if retryHeader != "" {
		delay = retryAfter(retryHeader, delay)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// retryAfter parses a Retry-After header value, either delay seconds or an
// HTTP date, falling back to the given duration.
func retryAfter(v string, fallback time.Duration) time.Duration {
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return fallback
}

// waitForPoll sleeps for the given delay, clamped to the budget deadline.
// It returns errPollTimeout once the budget is exhausted and the context's
// error when cancelled.
func waitForPoll(ctx context.Context, delay time.Duration, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errPollTimeout
	}
	if delay > remaining {
		delay = remaining
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
