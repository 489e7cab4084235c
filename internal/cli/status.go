package cli

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yolodolo42/permitflow/internal/chain"
	"github.com/yolodolo42/permitflow/internal/flow"
	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"balance"},
	Short:   "Show balances, the registry approval and the Permit2 allowance",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			st, err := e.runner.Status(ctx)
			if err != nil {
				return err
			}
			native, err := e.client.GetNativeBalance(ctx, st.Owner)
			if err != nil {
				e.log.Warn("native balance unavailable", zap.Error(err))
				native = nil
			}
			printStatus(cmd.OutOrStdout(), e.client.Config(), st, native, time.Now())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(w io.Writer, network *chain.ChainConfig, st *flow.Status, native *chain.NativeBalance, now time.Time) {
	format := func(v *big.Int) string {
		return chain.FormatBalance(v, st.Decimals) + " " + st.Symbol
	}

	fmt.Fprintln(w, ui.TitleStyle.Render("permitflow status"))
	fmt.Fprintln(w, ui.KeyValue("Network", fmt.Sprintf("%s (%s)", network.Name, st.ChainID)))
	fmt.Fprintln(w, ui.KeyValue("Owner", st.Owner.Hex()))
	if link := network.AddressURL(st.Owner); link != "" {
		fmt.Fprintln(w, ui.KeyValue("Explorer", link))
	}
	if native != nil {
		fmt.Fprintln(w, ui.KeyValue("Gas balance", chain.FormatBalance(native.Balance, native.Decimals)+" "+native.Symbol))
	}
	fmt.Fprintln(w, ui.KeyValue("Token", st.Token.Hex()))
	fmt.Fprintln(w, ui.KeyValue("Token balance", format(st.Balance)))
	fmt.Fprintln(w, ui.KeyValue("Registry approval", allowanceText(st.TokenAllowance, permit.MaxApproval, format)))
	fmt.Fprintln(w, ui.KeyValue("Permit2 allowance", allowanceText(st.Registry.Amount, permit.MaxAllowanceAmount, format)))
	fmt.Fprintln(w, ui.KeyValue("Expires", expirationText(st.Registry.Expiration, now)))
	fmt.Fprintln(w, ui.KeyValue("Allowance nonce", fmt.Sprintf("%d", st.Registry.Nonce)))
	fmt.Fprintln(w, ui.KeyValue("Permit2 domain", domainText(st)))
}

func domainText(st *flow.Status) string {
	switch {
	case st.DomainSeparator == (common.Hash{}):
		return "unavailable"
	case st.DomainMatches:
		return "ok " + ui.ShortHex(st.DomainSeparator.Hex())
	default:
		return ui.Failure("mismatch %s, signatures will not verify", ui.ShortHex(st.DomainSeparator.Hex()))
	}
}

func allowanceText(amount, max *big.Int, format func(*big.Int) string) string {
	if amount == nil {
		return format(new(big.Int))
	}
	if amount.Cmp(max) == 0 {
		return "unlimited"
	}
	return format(amount)
}

func expirationText(expiration int64, now time.Time) string {
	if expiration == 0 {
		return "never set"
	}
	at := time.Unix(expiration, 0).UTC()
	if !at.After(now) {
		return at.Format(time.RFC3339) + " (expired)"
	}
	return fmt.Sprintf("%s (in %s)", at.Format(time.RFC3339), at.Sub(now).Round(time.Minute))
}
