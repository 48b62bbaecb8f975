package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/yetasya/derivatives-bot/internal/catalog"
	"github.com/yetasya/derivatives-bot/internal/events"
)

// NewSymbolsCmd creates a command that connects once and prints the
// instrument catalog
func NewSymbolsCmd(configPath func() string) *cobra.Command {
	var (
		jsonOutput bool
		market     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Fetch and print the instrument catalog",
		Long: `Connect to the backend, refresh the instrument catalog and print it.

When the backend cannot be reached within --timeout the bundled fallback list
is printed instead; the "source" field says which one you got.
Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				instruments *catalog.Catalog
				bus         *events.EventBus
			)
			app := fx.New(
				coreModules(configPath()),
				fx.Populate(&instruments, &bus),
			)
			if err := app.Err(); err != nil {
				return err
			}

			refreshed := bus.Subscribe(events.EventCatalogRefreshed, 1)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				_ = app.Stop(stopCtx)
			}()

			select {
			case <-refreshed:
			case <-ctx.Done():
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Timed out waiting for the backend, showing bundled instruments")
			}

			list := filterMarket(instruments.Instruments(), market)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), instruments.Source(), list)
			}
			printHumanReadable(cmd.OutOrStdout(), instruments.Source(), list)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().StringVarP(&market, "market", "m", "", "Only show instruments of this market")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the backend")
	return cmd
}

func filterMarket(list []catalog.Instrument, market string) []catalog.Instrument {
	if market == "" {
		return list
	}
	out := list[:0]
	for _, inst := range list {
		if strings.EqualFold(inst.Market, market) {
			out = append(out, inst)
		}
	}
	return out
}

func printJSON(w io.Writer, source catalog.Source, list []catalog.Instrument) error {
	output, err := json.MarshalIndent(map[string]interface{}{
		"source":      source,
		"count":       len(list),
		"instruments": list,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling instruments: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

func printHumanReadable(w io.Writer, source catalog.Source, list []catalog.Instrument) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].MarketDisplayName != list[j].MarketDisplayName {
			return list[i].MarketDisplayName < list[j].MarketDisplayName
		}
		return list[i].Code < list[j].Code
	})

	_, _ = fmt.Fprintf(w, "Instruments (%s, %d)\n", source, len(list))
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 80))

	currentMarket := ""
	for _, inst := range list {
		if inst.MarketDisplayName != currentMarket {
			currentMarket = inst.MarketDisplayName
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintf(w, "%s\n", currentMarket)
			_, _ = fmt.Fprintln(w, strings.Repeat("-", 80))
		}

		status := "open"
		switch {
		case inst.IsTradingSuspended:
			status = "suspended"
		case !inst.ExchangeIsOpen:
			status = "closed"
		}
		_, _ = fmt.Fprintf(w, "  %-14s %-40s pip %-2d %s\n", inst.Code, inst.DisplayName, inst.PipSize, status)
	}
}
