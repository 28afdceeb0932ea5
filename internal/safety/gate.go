package safety

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var prodInstancePattern = regexp.MustCompile(`(?i)(prod|production)$`)

// Options carries everything the gate needs to decide whether a run may
// proceed. AllowProdMutations mirrors GP_ALLOW_PROD_MUTATIONS so the gate
// itself stays free of environment reads.
type Options struct {
	Operation          string
	InstanceID         string
	MarketID           string
	Confirm            bool
	Force              bool
	AllowProdMutations bool

	// Stdin is the stream used for the interactive delete confirmation.
	Stdin io.Reader
	// Prompt receives the confirmation question; defaults to io.Discard.
	Prompt io.Writer
}

// Check applies the safety rules in order: production block, confirmation
// flags, interactive re-entry of the market id for delete. It must run before
// any user-facing side effect, including opening the database connection.
func Check(opts Options) error {
	destructive := opts.Operation == "overwrite" || opts.Operation == "delete"

	if destructive && prodInstancePattern.MatchString(opts.InstanceID) && !opts.AllowProdMutations {
		return fmt.Errorf("refusing to run %s against production-like instance %q; set GP_ALLOW_PROD_MUTATIONS=true to override",
			opts.Operation, opts.InstanceID)
	}

	if opts.Operation == "overwrite" && !opts.Confirm && !opts.Force {
		return fmt.Errorf("overwrite is destructive: pass --confirm or --force")
	}

	if opts.Operation == "delete" {
		if !opts.Confirm && !opts.Force {
			return fmt.Errorf("delete is destructive: pass --confirm or --force")
		}
		if !opts.Force {
			if err := confirmMarketID(opts); err != nil {
				return err
			}
		}
	}

	return nil
}

// confirmMarketID asks the operator to re-type the market id. A mismatch or
// EOF (stdin not interactive) aborts the run; non-interactive callers must
// pass --force instead.
func confirmMarketID(opts Options) error {
	prompt := opts.Prompt
	if prompt == nil {
		prompt = io.Discard
	}
	fmt.Fprintf(prompt, "About to delete all data for market %q. Type the market id to confirm: ", opts.MarketID)

	if opts.Stdin == nil {
		return fmt.Errorf("delete confirmation requires an interactive terminal; pass --force in non-interactive runs")
	}
	line, err := bufio.NewReader(opts.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("delete confirmation aborted: %w", err)
	}
	if strings.TrimSpace(line) != opts.MarketID {
		return fmt.Errorf("delete confirmation mismatch: expected %q", opts.MarketID)
	}
	return nil
}
