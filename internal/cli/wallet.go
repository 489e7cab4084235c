package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yolodolo42/permitflow/internal/ui"
	"github.com/yolodolo42/permitflow/internal/wallet"
)

const minPasswordLen = 8

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage keystore wallets",
	Long:  `Create, import and list the encrypted keystore accounts permitflow can sign with.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new keystore wallet",
	Args:  cobra.NoArgs,
	RunE:  runWalletCreate,
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a private key into the keystore",
	Args:  cobra.NoArgs,
	RunE:  runWalletImport,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keystore wallets",
	Args:  cobra.NoArgs,
	RunE:  runWalletList,
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the address permitflow signs with",
	Args:  cobra.NoArgs,
	RunE:  runWalletAddress,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletCreateCmd, walletImportCmd, walletListCmd, walletAddressCmd)

	walletImportCmd.Flags().String("key", "", "private key to import (hex, with or without 0x prefix)")
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// newPassword asks for a password twice and checks it.
func newPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}
	return password, checkPassword(password, confirm)
}

func checkPassword(password, confirm string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}
	return nil
}

func keystoreManager() (*wallet.KeystoreManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	return km, nil
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	km, err := keystoreManager()
	if err != nil {
		return err
	}
	password, err := newPassword("Password for the new wallet: ")
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Wallet created"))
	fmt.Fprintln(out, ui.KeyValue("Address", account.Address.Hex()))
	fmt.Fprintln(out, ui.KeyValue("Keystore", account.URL.Path))
	fmt.Fprintln(out, ui.WarningStyle.Render("Back up the keystore file and remember the password."))
	return nil
}

func runWalletImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")
	if privateKey == "" {
		var err error
		if privateKey, err = readKey(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	if privateKey == "" {
		return fmt.Errorf("private key is required")
	}

	km, err := keystoreManager()
	if err != nil {
		return err
	}
	password, err := newPassword("Password to encrypt the wallet: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Wallet imported"))
	fmt.Fprintln(out, ui.KeyValue("Address", account.Address.Hex()))
	fmt.Fprintln(out, ui.KeyValue("Keystore", account.URL.Path))
	return nil
}

func readKey(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Private key (hex): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runWalletList(cmd *cobra.Command, args []string) error {
	km, err := keystoreManager()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	accounts := km.ListAccounts()
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No wallets found.")
		fmt.Fprintln(out, ui.DimStyle.Render("Use 'permitflow wallet create' or 'permitflow wallet import'."))
		return nil
	}

	fmt.Fprintf(out, "Found %d wallet(s):\n\n", len(accounts))
	for i, acc := range accounts {
		fmt.Fprintf(out, "%d. %s\n", i+1, acc.Address.Hex())
	}
	return nil
}

func runWalletAddress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	signer, err := loadSigner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if locker, ok := signer.(interface{ Lock() }); ok {
			locker.Lock()
		}
	}()

	source := "keystore"
	if cfg.PrivateKey != "" {
		source = "private key"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.KeyValue("Address", signer.Address().Hex()))
	fmt.Fprintln(out, ui.KeyValue("Source", source))
	return nil
}
