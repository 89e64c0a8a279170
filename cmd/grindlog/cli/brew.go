// ABOUTME: The brew subcommand: log and list brews from the terminal
// ABOUTME: Listing is public API; logging needs the saved token

package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newBrewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brew",
		Short: "Log and list brews",
	}
	cmd.AddCommand(newBrewAddCmd())
	cmd.AddCommand(newBrewListCmd())
	return cmd
}

func newBrewAddCmd() *cobra.Command {
	var (
		bagID  string
		method string
		dose   float64
		yield  float64
		notes  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Log a brew",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}

			body := map[string]any{
				"bag_id":  bagID,
				"method":  method,
				"dose_g":  dose,
				"yield_g": yield,
				"notes":   notes,
			}
			var created struct {
				ID string `json:"id"`
			}
			if err := client.do(cmd.Context(), "POST", "/api/brews", body, &created); err != nil {
				return err
			}

			color.New(color.FgGreen).Printf("Logged brew %s\n", created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&bagID, "bag", "", "bag ID the brew came from")
	cmd.Flags().StringVar(&method, "method", "", "brew method, e.g. v60, espresso")
	cmd.Flags().Float64Var(&dose, "dose", 0, "coffee dose in grams")
	cmd.Flags().Float64Var(&yield, "yield", 0, "beverage yield in grams")
	cmd.Flags().StringVar(&notes, "notes", "", "tasting notes")
	_ = cmd.MarkFlagRequired("bag")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}

func newBrewListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent brews",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Reads are public, no token needed; --server alone works.
			base := serverURL
			if base == "" {
				creds, err := loadCredentials()
				if err != nil {
					return err
				}
				base = creds.ServerURL
			}
			client := newAPIClient(base, "")

			var brews []struct {
				Method   string    `json:"method"`
				DoseG    float64   `json:"dose_g"`
				YieldG   float64   `json:"yield_g"`
				Notes    string    `json:"notes"`
				BrewedAt time.Time `json:"brewed_at"`
			}
			path := fmt.Sprintf("/api/brews?limit=%d", limit)
			if err := client.do(cmd.Context(), "GET", path, nil, &brews); err != nil {
				return err
			}

			gray := color.New(color.FgHiBlack)
			for _, b := range brews {
				fmt.Printf("%-10s %5.1fg -> %5.1fg", b.Method, b.DoseG, b.YieldG)
				gray.Printf("  %s", b.BrewedAt.Format("2006-01-02 15:04"))
				if b.Notes != "" {
					gray.Printf("  %s", b.Notes)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of brews to show")
	return cmd
}
