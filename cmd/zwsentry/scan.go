package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zwsentry/internal/fshost"
	"zwsentry/internal/store"
	"zwsentry/internal/verdict"
	"zwsentry/internal/verification"
	"zwsentry/internal/zerowidth"
)

type scanReport struct {
	Source   string `json:"source"`
	TextHash string `json:"text_hash"`
	verdict.ScanResult
}

func (a *app) cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(); err != nil {
		return err
	}

	text, source, err := a.readInput(fs.Args())
	if err != nil {
		return err
	}
	res := verdict.Evaluate(text)
	hash := verification.HashText(text)

	if a.cfg.Scan.RecordHistory {
		a.recordScan(source, hash, res)
	}

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scanReport{Source: source, TextHash: hash, ScanResult: res})
	}

	fmt.Fprintf(a.stdout, "=== Scan: %s ===\n", source)
	fmt.Fprintf(a.stdout, "Verdict:     %s (%s)\n", res.Verdict, res.Reason)
	fmt.Fprintf(a.stdout, "Zero-width:  %d\n", res.ZeroWidthCount)
	if h := fshost.FormatHistogram(res.Histogram); h != "" {
		fmt.Fprintf(a.stdout, "Histogram:   %s\n", h)
	}
	fmt.Fprintf(a.stdout, "Tags:        %d (%d valid, %d invalid)\n", len(res.Tags), res.ValidCount(), res.InvalidCount())
	for i, t := range res.Tags {
		fmt.Fprintf(a.stdout, "  [%d] bytes %d-%d\n", i, t.Start, t.End)
		fmt.Fprintf(a.stdout, "      %s\n", t.Payload)
	}
	if len(res.Explanations) > 0 {
		fmt.Fprintln(a.stdout)
		for _, e := range res.Explanations {
			fmt.Fprintf(a.stdout, "  - %s\n", e)
		}
	}
	return nil
}

// recordScan stores a history row. Failures are logged, never fatal.
func (a *app) recordScan(source, hash string, res verdict.ScanResult) {
	st, err := a.openStore()
	if err != nil {
		a.logger.Warn("scan not recorded", "error", err)
		return
	}
	defer st.Close()

	rec := &store.ScanRecord{
		Source:         source,
		TextHash:       hash,
		Verdict:        res.Verdict.String(),
		Reason:         res.Reason.String(),
		ZeroWidthCount: res.ZeroWidthCount,
		ValidTags:      res.ValidCount(),
		InvalidTags:    res.InvalidCount(),
	}
	for _, t := range res.Tags {
		if t.Payload.Valid {
			m := t.Payload.Metadata
			rec.Metadata = &m
			break
		}
	}

	ctx := context.Background()
	if _, err := st.RecordScan(ctx, rec); err != nil {
		a.logger.Warn("scan not recorded", "error", err)
		return
	}
	if err := st.Prune(ctx, a.cfg.Storage.HistoryLimit); err != nil {
		a.logger.Warn("prune history failed", "error", err)
	}
}

func (a *app) cmdStrip(args []string) error {
	if err := a.setup(); err != nil {
		return err
	}
	text, _, err := a.readInput(args)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, zerowidth.Strip(text))
	return err
}

func (a *app) cmdVerify(args []string) error {
	if err := a.setup(); err != nil {
		return err
	}
	raw, _, err := a.readInput(args)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return fmt.Errorf("nothing to verify")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out verification.Outcome
	if !a.cfg.Verification.Enabled {
		out = verification.Unavailable("verification is disabled")
	} else {
		client, err := verification.New(a.cfg.VerificationClientConfig(), verification.WithLogger(a.logger))
		if err != nil {
			return err
		}
		start := time.Now()
		fmt.Fprintf(a.stdout, "Verifying %d byte(s) against %s...", len(text), a.cfg.Verification.Endpoint)
		out = client.Verify(ctx, text)
		fmt.Fprintf(a.stdout, " done (%s)\n", time.Since(start).Round(time.Millisecond))
	}

	if st, err := a.openStore(); err != nil {
		a.logger.Warn("verification not recorded", "error", err)
	} else {
		recordVerification(ctx, st, a.cfg.Storage.HistoryLimit, text, out, a.logger)
		st.Close()
	}

	printOutcome(a.stdout, out)
	if out.Status == verification.StatusUnavailable {
		return out.Cause
	}
	return nil
}

func printOutcome(w io.Writer, out verification.Outcome) {
	fmt.Fprintln(w, out.Summary())
	if out.Status == verification.StatusVerified {
		p := out.Provenance
		fmt.Fprintf(w, "  Company:     %s\n", p.Company)
		fmt.Fprintf(w, "  Block:       %d\n", p.BlockNumber)
		if p.Timestamp != "" {
			fmt.Fprintf(w, "  Timestamp:   %s\n", p.Timestamp)
		}
		fmt.Fprintf(w, "  Transaction: %s\n", p.TransactionHash)
	}
	if out.RequestID != "" {
		fmt.Fprintf(w, "  Request ID:  %s\n", out.RequestID)
	}
}

func (a *app) cmdRegistry() error {
	fmt.Fprintf(a.stdout, "%-8s %-5s %-9s %s\n", "Code", "Name", "Role", "Unicode name")
	fmt.Fprintln(a.stdout, strings.Repeat("-", 50))
	for _, c := range zerowidth.All() {
		fmt.Fprintf(a.stdout, "U+%04X   %-5s %-9s %s\n", c.CodePoint, c.Name, c.Role, zerowidth.UnicodeName(c.CodePoint))
	}
	return nil
}
