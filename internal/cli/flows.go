package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yolodolo42/permitflow/internal/chain"
	"github.com/yolodolo42/permitflow/internal/flow"
	"github.com/yolodolo42/permitflow/internal/setup"
	"github.com/yolodolo42/permitflow/internal/tx"
	"github.com/yolodolo42/permitflow/internal/ui"
)

// flowAll runs every flow in order.
const flowAll = "all"

var flowDescriptions = map[string]string{
	flow.FlowApprove:                        "unlimited token approval for the registry",
	flow.FlowAllowanceTransferWithPermit:    "sign PermitSingle, set allowance and transfer",
	flow.FlowAllowanceTransferWithoutPermit: "transfer against the existing allowance",
	flow.FlowSignatureTransfer:              "sign a one-shot PermitTransferFrom",
	flow.FlowSignatureTransferWithWitness:   "one-shot transfer bound to a witness user",
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the Permit2 registry to move the token",
	Long: `Grant the registry an unlimited ERC-20 approval and wait for it to be
mined. Nothing is sent when the approval is already unlimited.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			res, err := e.runner.ApproveRegistry(ctx)
			return report(cmd.OutOrStdout(), e, res, err)
		})
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Submit a Permit2 transfer through the app contract",
}

var transferAllowancePermitCmd = &cobra.Command{
	Use:   "allowance-permit [amount]",
	Short: "Sign a PermitSingle and transfer in one transaction",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFlowCommand(flow.FlowAllowanceTransferWithPermit),
}

var transferAllowanceCmd = &cobra.Command{
	Use:   "allowance [amount]",
	Short: "Transfer against the allowance the registry already holds",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFlowCommand(flow.FlowAllowanceTransferWithoutPermit),
}

var transferSignatureCmd = &cobra.Command{
	Use:   "signature [amount]",
	Short: "Sign and submit a one-shot signature transfer",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFlowCommand(flow.FlowSignatureTransfer),
}

var transferWitnessCmd = &cobra.Command{
	Use:   "witness [amount]",
	Short: "Signature transfer with a Witness(address user) bound into the permit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userHex, _ := cmd.Flags().GetString("user")
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			amount, err := flowAmount(ctx, e, args)
			if err != nil {
				return err
			}
			user := e.cfg.Policy.WitnessUser
			if userHex != "" {
				if !common.IsHexAddress(userHex) {
					return fmt.Errorf("invalid witness user: %s", userHex)
				}
				user = common.HexToAddress(userHex)
			}
			res, err := e.runner.SignatureTransferWithWitness(ctx, amount, user)
			return report(cmd.OutOrStdout(), e, res, err)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run [flow|all] [amount]",
	Short: "Run one flow, all of them, or pick one interactively",
	Long: `Run a flow by name, or "all" to run every flow in order:

  approve, allowanceTransferWithPermit, allowanceTransferWithoutPermit,
  signatureTransfer, signatureTransferWithWitness

Without arguments an interactive picker is shown.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(approveCmd, transferCmd, runCmd)
	transferCmd.AddCommand(transferAllowancePermitCmd, transferAllowanceCmd, transferSignatureCmd, transferWitnessCmd)

	transferWitnessCmd.Flags().String("user", "", "witness user address (default policy.witness_user)")
}

// withEnv opens the environment for one command and always closes it.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	e.log.Debug("command started", zap.String("command", cmd.CommandPath()))
	return fn(ctx, e)
}

func runFlowCommand(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			amount, err := flowAmount(ctx, e, args)
			if err != nil {
				return err
			}
			res, err := e.runner.Run(ctx, name, amount)
			return report(cmd.OutOrStdout(), e, res, err)
		})
	}
}

// flowAmount parses the amount argument, defaulting to policy.amount.
func flowAmount(ctx context.Context, e *env, args []string) (*big.Int, error) {
	text := e.cfg.Policy.Amount
	if len(args) > 0 {
		text = args[len(args)-1]
	}
	amount, err := e.runner.ParseAmount(ctx, text)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", text)
	}
	return amount, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	name := ""
	var amountArgs []string
	if len(args) > 0 {
		name = args[0]
		amountArgs = args[1:]
	}

	if name == "" && !setup.IsInteractive() {
		return fmt.Errorf("flow name required: one of %s, all", strings.Join(flow.Flows, ", "))
	}
	if name != "" && name != flowAll && !isFlow(name) {
		return fmt.Errorf("%w: %s", flow.ErrUnknownFlow, name)
	}

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		if name == "" {
			// The picker needs the token's decimals to validate the amount.
			picker := flowPicker(e.cfg.Policy.Amount, e.runner.Decimals(ctx))
			choice, err := ui.RunPicker(os.Stdin, cmd.OutOrStdout(), picker)
			if err != nil {
				return err
			}
			if choice.Cancelled {
				return nil
			}
			name = choice.ID
			if choice.Value != "" {
				amountArgs = []string{choice.Value}
			}
		}

		names := []string{name}
		if name == flowAll {
			names = flow.Flows
		}
		for _, n := range names {
			var amount *big.Int
			if n != flow.FlowApprove {
				var err error
				if amount, err = flowAmount(ctx, e, amountArgs); err != nil {
					return err
				}
			}
			res, err := e.runner.Run(ctx, n, amount)
			if err := report(cmd.OutOrStdout(), e, res, err); err != nil {
				return err
			}
		}
		return nil
	})
}

func isFlow(name string) bool {
	for _, f := range flow.Flows {
		if f == name {
			return true
		}
	}
	return false
}

func flowPicker(defaultAmount string, decimals uint8) ui.Picker {
	items := make([]ui.SelectorItem, 0, len(flow.Flows)+1)
	for _, f := range flow.Flows {
		items = append(items, ui.SelectorItem{ID: f, Label: f, Description: flowDescriptions[f]})
	}
	items = append(items, ui.SelectorItem{ID: flowAll, Label: flowAll, Description: "every flow in order"})

	prompt := ui.NewPrompt("Amount", defaultAmount, func(s string) error {
		_, err := chain.ParseUnits(s, decimals)
		return err
	})
	return ui.NewPicker("Choose a Permit2 flow", items, prompt, func(id string) bool {
		return id != flow.FlowApprove
	})
}

// report prints the outcome of a flow and passes err through.
func report(w io.Writer, e *env, res *flow.Result, err error) error {
	var network *chain.ChainConfig
	if e.client != nil {
		network = e.client.Config()
	}
	format := func(amount *big.Int) string {
		return chain.FormatBalance(amount, 18)
	}
	if e.runner != nil {
		format = func(amount *big.Int) string {
			return e.runner.FormatAmount(context.Background(), amount)
		}
	}
	printResult(w, res, err, network, format)
	return err
}

func printResult(w io.Writer, res *flow.Result, err error, network *chain.ChainConfig, format func(*big.Int) string) {
	if res == nil {
		if err != nil {
			fmt.Fprintln(w, ui.Failure("%v", err))
		}
		return
	}

	switch {
	case res.Skipped:
		fmt.Fprintln(w, ui.Skipped("%s: nothing to send", res.Flow))
		return
	case err == nil:
		fmt.Fprintln(w, ui.Success("%s confirmed", res.Flow))
	case errors.Is(err, tx.ErrReverted):
		fmt.Fprintln(w, ui.Failure("%s reverted", res.Flow))
	default:
		fmt.Fprintln(w, ui.Failure("%s: %v", res.Flow, err))
	}

	if res.TxHash != (common.Hash{}) {
		fmt.Fprintln(w, "  "+ui.KeyValue("Tx", res.TxHash.Hex()))
	}
	if res.Receipt != nil {
		fmt.Fprintln(w, "  "+ui.KeyValue("Block", res.Receipt.BlockNumber.String()))
		fmt.Fprintln(w, "  "+ui.KeyValue("Gas used", fmt.Sprintf("%d", res.Receipt.GasUsed)))
	}
	if res.Amount != nil && res.Flow != flow.FlowApprove {
		fmt.Fprintln(w, "  "+ui.KeyValue("Amount", format(res.Amount)))
	}
	if res.Nonce != nil {
		fmt.Fprintln(w, "  "+ui.KeyValue("Permit nonce", res.Nonce.String()))
	}
	if len(res.Signature) > 0 {
		fmt.Fprintln(w, "  "+ui.KeyValue("Signature", ui.ShortHex(hexutil.Encode(res.Signature))))
	}
	if network != nil && res.TxHash != (common.Hash{}) {
		if link := network.TxURL(res.TxHash); link != "" {
			fmt.Fprintln(w, "  "+ui.KeyValue("Explorer", link))
		}
	}
}
