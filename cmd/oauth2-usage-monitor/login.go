package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/oauth2-usage-monitor/internal/deviceflow"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/session"
	"github.com/wrale/oauth2-usage-monitor/internal/usage"
	"github.com/wrale/oauth2-usage-monitor/internal/validation"
)

// runLogin signs in from the terminal. Interrupting the command cancels
// the flow without reporting an error.
func runLogin(ctx context.Context, cfg Config, logger *zap.Logger, out io.Writer) error {
	c, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("closing Redis connection", zap.Error(err))
		}
	}()

	cred, err := c.client.Authorize(ctx, func(code *deviceflow.DeviceCode) error {
		return presentCode(out, code)
	})
	switch {
	case oauth.IsSilent(err):
		fmt.Fprintln(out, "Login cancelled.")
		return nil
	case err != nil:
		fmt.Fprintf(out, "Login failed (%s).\n", oauth.Code(err))
		return err
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), session.DefaultSaveTimeout)
	defer cancel()
	if err := c.creds.Save(saveCtx, cred); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	fmt.Fprintln(out, "Logged in.")

	printUsage(out, c.usage.ForceRefresh(saveCtx))
	return nil
}

func presentCode(out io.Writer, code *deviceflow.DeviceCode) error {
	_, err := fmt.Fprintf(out, "First copy your one-time code: %s\n", validation.FormatCode(code.UserCode))
	if err != nil {
		return err
	}
	if code.VerificationURIComplete != "" {
		fmt.Fprintf(out, "Then open %s\n", code.VerificationURIComplete)
	} else {
		fmt.Fprintf(out, "Then open %s and enter the code\n", code.VerificationURI)
	}
	_, err = fmt.Fprintf(out, "Waiting for authorization (the code expires at %s)...\n",
		code.ExpiresAt.Local().Format(time.Kitchen))
	return err
}

func printUsage(out io.Writer, st usage.State) {
	if st.Snapshot == nil {
		fmt.Fprintf(out, "Usage unavailable (%s).\n", st.ErrorCode())
		return
	}

	fmt.Fprintf(out, "Plan: %s\n", st.Snapshot.Plan)
	for _, q := range st.Snapshot.Quotas {
		if q.Unlimited {
			fmt.Fprintf(out, "  %s: unlimited\n", q.Name)
			continue
		}
		fmt.Fprintf(out, "  %s: %.0f of %.0f remaining (%.0f%% used)\n",
			q.Name, q.Remaining, q.Entitlement, q.PercentUsed())
	}
	if !st.Snapshot.ResetAt.IsZero() {
		fmt.Fprintf(out, "Resets on %s\n", st.Snapshot.ResetAt.Format(time.DateOnly))
	}
}
