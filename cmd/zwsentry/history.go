package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"zwsentry/internal/host"
	"zwsentry/internal/logging"
	"zwsentry/internal/store"
	"zwsentry/internal/verification"
)

// recordVerification stores one verification outcome and trims history.
func recordVerification(ctx context.Context, st store.Store, keep int, text string, out verification.Outcome, logger *logging.Logger) {
	rec := &store.VerificationRecord{
		TextHash:    verification.HashText(text),
		Status:      out.Status.String(),
		Company:     out.Provenance.Company,
		BlockNumber: out.Provenance.BlockNumber,
		TxHash:      out.Provenance.TransactionHash,
		Reason:      out.Reason,
		RequestID:   out.RequestID,
	}
	if out.Cause != nil {
		rec.Reason = out.Cause.Error()
	}
	if _, err := st.RecordVerification(ctx, rec); err != nil {
		logger.Warn("verification not recorded", "error", err)
		return
	}
	if err := st.Prune(ctx, keep); err != nil {
		logger.Warn("prune history failed", "error", err)
	}
}

// currentMode returns the persisted mode, falling back to the configured
// default when nothing was stored yet.
func (a *app) currentMode(ctx context.Context, st store.Store) (host.Mode, bool, error) {
	m, err := st.GetMode(ctx)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return host.ModeOff, false, err
	}
	m, err = host.ParseMode(a.cfg.Scan.DefaultMode)
	return m, false, err
}

func (a *app) cmdMode(args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("usage: zwsentry mode [off|auto|selection]")
	}
	if err := a.setup(); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	if len(args) == 1 {
		m, err := host.ParseMode(args[0])
		if err != nil {
			return err
		}
		if m, err = st.SetMode(ctx, m); err != nil {
			return fmt.Errorf("save mode: %w", err)
		}
		fmt.Fprintf(a.stdout, "Mode set to %s\n", m)
		return nil
	}

	m, stored, err := a.currentMode(ctx, st)
	if err != nil {
		return err
	}
	if stored {
		fmt.Fprintf(a.stdout, "Mode: %s\n", m)
	} else {
		fmt.Fprintf(a.stdout, "Mode: %s (default)\n", m)
	}
	return nil
}

func (a *app) cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	limit := fs.Int("limit", 20, "Number of rows to show per table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	scans, err := st.RecentScans(ctx, *limit)
	if err != nil {
		return fmt.Errorf("read scans: %w", err)
	}
	verifications, err := st.RecentVerifications(ctx, *limit)
	if err != nil {
		return fmt.Errorf("read verifications: %w", err)
	}

	if len(scans) == 0 && len(verifications) == 0 {
		fmt.Fprintln(a.stdout, "No scans recorded.")
		return nil
	}

	fmt.Fprintln(a.stdout, "=== Scan History ===")
	fmt.Fprintf(a.stdout, "%-19s %-12s %-11s %-5s %-5s %s\n", "Time", "Verdict", "Reason", "ZW", "Tags", "Source")
	fmt.Fprintln(a.stdout, strings.Repeat("-", 70))
	for _, s := range scans {
		fmt.Fprintf(a.stdout, "%-19s %-12s %-11s %-5d %-5s %s\n",
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.Verdict, s.Reason,
			s.ZeroWidthCount, fmt.Sprintf("%d/%d", s.ValidTags, s.ValidTags+s.InvalidTags), s.Source)
		if s.Metadata != nil {
			fmt.Fprintf(a.stdout, "    issuer %d, model %d v%d, key %d\n",
				s.Metadata.IssuerID, s.Metadata.ModelID, s.Metadata.ModelVersionID, s.Metadata.KeyID)
		}
	}

	if len(verifications) > 0 {
		fmt.Fprintln(a.stdout)
		fmt.Fprintln(a.stdout, "=== Verification History ===")
		for _, v := range verifications {
			fmt.Fprintf(a.stdout, "%-19s %-13s %s...\n",
				v.CreatedAt.Local().Format("2006-01-02 15:04:05"), v.Status, shortHash(v.TextHash))
			switch {
			case v.Company != "":
				fmt.Fprintf(a.stdout, "    %s, block %d, tx %s\n", v.Company, v.BlockNumber, v.TxHash)
			case v.Reason != "":
				fmt.Fprintf(a.stdout, "    %s\n", v.Reason)
			}
		}
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
