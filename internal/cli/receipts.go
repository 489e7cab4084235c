package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/yolodolo42/permitflow/internal/store"
	"github.com/yolodolo42/permitflow/internal/ui"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Inspect receipts recorded by past flows",
}

var receiptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent receipts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		db, err := openReceiptDB()
		if err != nil {
			return err
		}
		defer db.Close()

		list, err := db.Receipts().List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printReceipts(cmd.OutOrStdout(), list)
		return nil
	},
}

var receiptsGetCmd = &cobra.Command{
	Use:   "get <tx-hash>",
	Short: "Show one receipt as recorded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := parseTxHash(args[0])
		if err != nil {
			return err
		}
		chainName, _ := cmd.Flags().GetString("chain")
		db, err := openReceiptDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if chainName == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			chainName = cfg.Network
		}
		r, err := db.Receipts().Get(cmd.Context(), chainName, hash.Hex())
		if err != nil {
			return err
		}
		printReceipt(cmd.OutOrStdout(), r)
		return nil
	},
}

// parseTxHash accepts a 32-byte hash with or without the 0x prefix.
func parseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(digits) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q: want %d hex digits", s, 2*common.HashLength)
	}
	raw, err := hexutil.Decode("0x" + digits)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q: %w", s, err)
	}
	return common.BytesToHash(raw), nil
}

func init() {
	rootCmd.AddCommand(receiptsCmd)
	receiptsCmd.AddCommand(receiptsListCmd, receiptsGetCmd)

	receiptsListCmd.Flags().Int("limit", 20, "maximum number of receipts to show")
	receiptsGetCmd.Flags().String("chain", "", "network the transaction was sent on (default: --network)")
}

func openReceiptDB() (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DataDir)
}

func statusText(status uint64) string {
	if status == 1 {
		return ui.SuccessStyle.Render("success")
	}
	return ui.ErrorStyle.Render("reverted")
}

func printReceipts(w io.Writer, list []*store.StoredReceipt) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No receipts recorded yet.")
		return
	}
	for _, r := range list {
		fmt.Fprintf(w, "%s  %-32s %-8s %s  %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Flow,
			r.Chain,
			ui.ShortHex(r.TxHash),
			statusText(r.Status),
		)
	}
}

func printReceipt(w io.Writer, r *store.StoredReceipt) {
	fmt.Fprintln(w, ui.KeyValue("Tx", r.TxHash))
	fmt.Fprintln(w, ui.KeyValue("Flow", r.Flow))
	fmt.Fprintln(w, ui.KeyValue("Chain", r.Chain))
	fmt.Fprintln(w, ui.KeyValue("Status", statusText(r.Status)))
	fmt.Fprintln(w, ui.KeyValue("Block", fmt.Sprintf("%d", r.BlockNumber)))
	fmt.Fprintln(w, ui.KeyValue("Gas used", fmt.Sprintf("%d", r.GasUsed)))
	fmt.Fprintln(w, ui.KeyValue("Recorded", r.CreatedAt.Local().Format("2006-01-02 15:04:05")))
}
