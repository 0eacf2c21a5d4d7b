package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifdevis/devis-cli/internal/market"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/scorer"
)

// -- zone --

var zoneCmd = &cobra.Command{
	Use:   "zone <postal-code>",
	Short: "Show the price zone and coefficient of a postal code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		zones, err := market.LoadZones(cfg.Market.ZonesPath)
		if err != nil {
			return eris.Wrap(err, "load zones")
		}
		info := zones.Lookup(args[0])
		fmt.Fprintf(os.Stdout, "%s\t%s (%s)\tcoefficient %.2f", args[0], info.Zone.Label(), info.Zone, info.Coefficient)
		if info.IsDefault {
			fmt.Fprint(os.Stdout, "\t(défaut)")
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}

// -- price --

var (
	priceQuantity float64
	priceUnit     float64
)

var priceCmd = &cobra.Command{
	Use:   "price <job-type> <postal-code>",
	Short: "Show the zone-adjusted market band of a job type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		resolver, err := initResolver()
		if err != nil {
			return err
		}
		line := resolver.Resolve(market.PriceRequest{
			JobType:           args[0],
			PostalCode:        args[1],
			Quantity:          priceQuantity,
			DeclaredUnitPrice: priceUnit,
		})
		formatPriceLine(os.Stdout, line)
		return nil
	},
}

func formatPriceLine(w io.Writer, l model.MarketPriceLine) {
	if !l.Available {
		fmt.Fprintf(w, "%s : prix indisponible (%s)\n", l.JobType, l.UnavailableReason)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\tZONE\tCOEF\tUNIT\tMIN\tAVG\tMAX\tSAMPLES\n")
	fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%d\n",
		l.JobType, l.Zone, l.Coefficient, l.Unit,
		scorer.FormatEuro(l.Min), scorer.FormatEuro(l.Avg), scorer.FormatEuro(l.Max), l.SampleSize)
	_ = tw.Flush()
	if l.DeclaredUnitPrice > 0 {
		fmt.Fprintf(w, "Prix déclaré %s : %s\n", scorer.FormatEuro(l.DeclaredUnitPrice), l.Position)
	}
}

// -- job-types --

var jobTypesCmd = &cobra.Command{
	Use:   "job-types",
	Short: "List the job types with a reference price",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := market.LoadReferences(cfg.Market.ReferencesPath)
		if err != nil {
			return eris.Wrap(err, "load price references")
		}
		for _, jt := range refs.JobTypes() {
			fmt.Fprintln(os.Stdout, jt)
		}
		return nil
	},
}

// -- strategic --

var strategicItems []string

var strategicCmd = &cobra.Command{
	Use:     "strategic",
	Short:   "Compute the strategic investment score of a set of works",
	Example: `  devis-cli strategic --item isolation:8000 --item pompe_a_chaleur:12000`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseStrategicItems(strategicItems)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scorer.ComputeStrategic(items, scorer.DefaultMatrix))
	},
}

// parseStrategicItems parses "job_type:amount_ht" pairs.
func parseStrategicItems(raw []string) ([]model.StrategicItem, error) {
	if len(raw) == 0 {
		return nil, eris.New("at least one --item job_type:amount is required")
	}
	items := make([]model.StrategicItem, 0, len(raw))
	for _, r := range raw {
		job, amount, ok := strings.Cut(r, ":")
		job = strings.TrimSpace(job)
		if !ok || job == "" {
			return nil, eris.Errorf("invalid item %q (expected job_type:amount)", r)
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(amount), ",", "."), 64)
		if err != nil || v < 0 {
			return nil, eris.Errorf("invalid amount in item %q", r)
		}
		items = append(items, model.StrategicItem{JobType: job, AmountHT: v})
	}
	return items, nil
}

func init() {
	priceCmd.Flags().Float64Var(&priceQuantity, "quantity", 0, "quantity in the reference unit")
	priceCmd.Flags().Float64Var(&priceUnit, "unit-price", 0, "declared unit price HT to position against the band")
	strategicCmd.Flags().StringArrayVar(&strategicItems, "item", nil, "work item as job_type:amount_ht (repeatable)")

	rootCmd.AddCommand(zoneCmd, priceCmd, jobTypesCmd, strategicCmd)
}
