package setup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/yolodolo42/permitflow/internal/ui"
	"github.com/yolodolo42/permitflow/internal/wallet"
)

// WizardStep is the screen the wizard is on.
type WizardStep int

const (
	StepWelcome WizardStep = iota
	StepAppAddress
	StepWalletChoice
	StepImportKey
	StepWalletPassword
	StepSaving
	StepComplete
)

const totalSteps = 3 // App, Wallet, Ready

// Wallet choices.
const (
	choiceEnv    = "env"
	choiceCreate = "create"
	choiceImport = "import"
	choiceSkip   = "skip"
)

const minPasswordLen = 8

// Result is what the wizard configured.
type Result struct {
	ConfigPath    string
	AppAddress    string
	WalletAddress string
	WalletCreated bool
	Cancelled     bool
}

// WizardModel is the bubbletea model of the wizard.
type WizardModel struct {
	step     WizardStep
	status   *Status
	dataDir  string
	quitting bool

	appInput       ui.Prompt
	walletSelector ui.Selector
	keyInput       ui.Prompt
	passwordInput  ui.Prompt
	confirmInput   ui.Prompt
	passwordStep   int // 0=enter, 1=confirm
	errMsg         string

	appAddress    string
	walletAddress string
	walletCreated bool
	usesEnvKey    bool
	busy          bool

	spinner  spinner.Model
	progress progress.Model

	result *Result
}

type walletCreatedMsg struct {
	address string
	err     error
}

type configSavedMsg struct {
	err error
}

func validateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return errors.New("not a 0x-prefixed 20 byte address")
	}
	return nil
}

func validateKey(s string) error {
	if _, err := wallet.NewPrivateKeySigner(s); err != nil {
		return errors.New("not a 32 byte hex private key")
	}
	return nil
}

func validatePassword(s string) error {
	if len(s) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

func walletItems(status *Status) []ui.SelectorItem {
	var items []ui.SelectorItem
	if status.EnvKeyVar != "" {
		items = append(items, ui.SelectorItem{
			ID:          choiceEnv,
			Label:       "Use " + status.EnvKeyVar,
			Description: "sign with the key from the environment",
			Suggested:   true,
		})
	}
	return append(items,
		ui.SelectorItem{ID: choiceCreate, Label: "Create wallet", Description: "new encrypted keystore account"},
		ui.SelectorItem{ID: choiceImport, Label: "Import key", Description: "encrypt an existing private key"},
		ui.SelectorItem{ID: choiceSkip, Label: "Skip", Description: "configure a signer later"},
	)
}

// NewWizard creates the wizard, skipping steps that are already configured.
func NewWizard(dataDir string, status *Status) WizardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ui.TitleStyle

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 40

	keyInput := ui.NewPrompt("Private key", "", validateKey)
	keyInput.Masked()
	passInput := ui.NewPrompt("Password", "", validatePassword)
	passInput.Masked()
	confirmInput := ui.NewPrompt("Confirm", "", nil)
	confirmInput.Masked()

	return WizardModel{
		step:           StepWelcome,
		status:         status,
		dataDir:        dataDir,
		appInput:       ui.NewPrompt("App address", status.AppAddress, validateAddress),
		walletSelector: ui.NewSelector("Choose how permits are signed", walletItems(status)),
		keyInput:       keyInput,
		passwordInput:  passInput,
		confirmInput:   confirmInput,
		appAddress:     status.AppAddress,
		walletAddress:  status.WalletAddress,
		spinner:        sp,
		progress:       prog,
	}
}

func (m WizardModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// afterApp skips the wallet step when a signer is already available.
func (m WizardModel) afterApp() (tea.Model, tea.Cmd) {
	if m.status.HasSigner() {
		m.usesEnvKey = !m.status.HasWallet
		return m.save()
	}
	m.step = StepWalletChoice
	return m, nil
}

func (m WizardModel) save() (tea.Model, tea.Cmd) {
	m.step = StepSaving
	m.busy = true
	return m, m.saveConfig()
}

func (m WizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.result = &Result{Cancelled: true}
			m.quitting = true
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		return m.updateKey(msg)

	case tea.WindowSizeMsg:
		m.progress.Width = min(40, msg.Width-20)
		m.walletSelector.SetWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case walletCreatedMsg:
		m.busy = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			m.step = StepWalletChoice
			m.walletSelector = ui.NewSelector("Choose how permits are signed", walletItems(m.status))
			return m, nil
		}
		m.walletCreated = true
		m.walletAddress = msg.address
		return m.save()

	case configSavedMsg:
		m.busy = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			m.result = &Result{Cancelled: true}
			m.quitting = true
			return m, tea.Quit
		}
		m.step = StepComplete
		return m, nil
	}
	return m, nil
}

func (m WizardModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case StepWelcome:
		if msg.Type == tea.KeyEnter {
			m.step = StepAppAddress
			return m, m.appInput.Focus()
		}

	case StepAppAddress:
		if msg.Type == tea.KeyEnter {
			if !m.appInput.Submit() {
				return m, nil
			}
			m.appAddress = common.HexToAddress(m.appInput.Value()).Hex()
			m.appInput.Blur()
			return m.afterApp()
		}
		_, cmd := m.appInput.Update(msg)
		return m, cmd

	case StepWalletChoice:
		return m.updateWalletChoice(msg)

	case StepImportKey:
		switch msg.Type {
		case tea.KeyEsc:
			m.keyInput.Reset()
			m.step = StepWalletChoice
			m.walletSelector = ui.NewSelector("Choose how permits are signed", walletItems(m.status))
			return m, nil
		case tea.KeyEnter:
			if !m.keyInput.Submit() {
				return m, nil
			}
			m.step = StepWalletPassword
			m.passwordStep = 0
			return m, m.passwordInput.Focus()
		}
		_, cmd := m.keyInput.Update(msg)
		return m, cmd

	case StepWalletPassword:
		switch msg.Type {
		case tea.KeyEsc:
			m.passwordStep = 0
			m.errMsg = ""
			m.passwordInput.Reset()
			m.confirmInput.Reset()
			m.keyInput.Reset()
			m.step = StepWalletChoice
			m.walletSelector = ui.NewSelector("Choose how permits are signed", walletItems(m.status))
			return m, nil
		case tea.KeyEnter:
			return m.updateWalletPassword()
		}
		var cmd tea.Cmd
		if m.passwordStep == 0 {
			_, cmd = m.passwordInput.Update(msg)
		} else {
			_, cmd = m.confirmInput.Update(msg)
		}
		return m, cmd

	case StepComplete:
		if msg.Type == tea.KeyEnter {
			m.result = &Result{
				ConfigPath:    m.status.ConfigPath,
				AppAddress:    m.appAddress,
				WalletAddress: m.walletAddress,
				WalletCreated: m.walletCreated,
			}
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m WizardModel) updateWalletChoice(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.walletSelector.Update(msg)
	if m.walletSelector.Active() {
		return m, nil
	}
	if m.walletSelector.Cancelled() {
		m.step = StepAppAddress
		m.walletSelector = ui.NewSelector("Choose how permits are signed", walletItems(m.status))
		return m, m.appInput.Focus()
	}

	m.errMsg = ""
	switch m.walletSelector.Selected() {
	case choiceEnv:
		m.usesEnvKey = true
		return m.save()
	case choiceCreate:
		m.step = StepWalletPassword
		m.passwordStep = 0
		return m, m.passwordInput.Focus()
	case choiceImport:
		m.step = StepImportKey
		return m, m.keyInput.Focus()
	default:
		return m.save()
	}
}

func (m WizardModel) updateWalletPassword() (tea.Model, tea.Cmd) {
	if m.passwordStep == 0 {
		if !m.passwordInput.Submit() {
			return m, nil
		}
		m.passwordStep = 1
		m.passwordInput.Blur()
		return m, m.confirmInput.Focus()
	}

	if m.passwordInput.Value() != m.confirmInput.Value() {
		m.errMsg = "Passwords do not match. Try again."
		m.confirmInput.Reset()
		return m, nil
	}
	m.errMsg = ""
	m.busy = true
	return m, m.createWallet()
}

func (m WizardModel) View() string {
	if m.quitting {
		if m.result != nil && m.result.Cancelled {
			msg := "\n  Setup cancelled.\n\n"
			if m.errMsg != "" {
				msg = "\n  Setup failed: " + m.errMsg + "\n\n"
			}
			return ui.DimStyle.Render(msg)
		}
		return ""
	}

	var b strings.Builder
	if m.step > StepWelcome && m.step < StepComplete {
		b.WriteString("\n")
		b.WriteString(m.renderProgress())
		b.WriteString("\n")
	}

	switch m.step {
	case StepWelcome:
		b.WriteString(m.viewWelcome())
	case StepAppAddress:
		b.WriteString(m.viewInput("Permit2 app contract",
			"The contract that receives permits and pulls tokens.", &m.appInput))
	case StepWalletChoice:
		b.WriteString("\n" + m.walletSelector.View())
	case StepImportKey:
		b.WriteString(m.viewInput("Import private key",
			"The key is encrypted into the keystore; it is not written to the config.", &m.keyInput))
	case StepWalletPassword:
		b.WriteString(m.viewWalletPassword())
	case StepSaving:
		b.WriteString(fmt.Sprintf("\n  %s Saving...\n", m.spinner.View()))
	case StepComplete:
		b.WriteString(m.viewComplete())
	}
	if m.errMsg != "" {
		b.WriteString("\n  " + ui.Failure("%s", m.errMsg) + "\n")
	}
	return b.String()
}

func (m WizardModel) renderProgress() string {
	current := 1
	switch m.step {
	case StepWalletChoice, StepImportKey, StepWalletPassword:
		current = 2
	case StepSaving, StepComplete:
		current = 3
	}
	bar := m.progress.ViewAs(float64(current) / float64(totalSteps))
	return fmt.Sprintf("  %s\n%s", bar, ui.DimStyle.Render("  App           Wallet       Ready"))
}

func (m WizardModel) viewWelcome() string {
	lines := []string{
		ui.TitleStyle.Render("Welcome to permitflow"),
		ui.DimStyle.Render("Permit2 allowance and signature transfers from the terminal"),
		"",
	}
	if m.status.EnvKeyVar != "" {
		lines = append(lines, ui.Success("Found %s in environment", m.status.EnvKeyVar))
	}
	if m.status.AppAddress != "" {
		lines = append(lines, ui.Success("App %s", ui.ShortHex(m.status.AppAddress)))
	}
	lines = append(lines, "This writes "+m.status.ConfigPath)

	return "\n\n" + ui.BoxStyle.Render(strings.Join(lines, "\n")) +
		"\n\n" + ui.HelpStyle.Render("  Press Enter to continue...")
}

func (m WizardModel) viewInput(title, hint string, p *ui.Prompt) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.TitleStyle.Render("  " + title))
	b.WriteString("\n\n")
	b.WriteString(ui.DimStyle.Render("  " + hint))
	b.WriteString("\n\n  ")
	b.WriteString(p.View())
	b.WriteString("\n\n")
	b.WriteString(ui.HelpStyle.Render("  Enter to continue • Ctrl+C quit"))
	return b.String()
}

func (m WizardModel) viewWalletPassword() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.TitleStyle.Render("  Keystore password"))
	b.WriteString("\n\n")
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("  Encrypts the wallet on disk. %d+ characters.\n\n", minPasswordLen)))

	b.WriteString("  ")
	if m.passwordStep == 0 {
		b.WriteString(m.passwordInput.View())
	} else {
		b.WriteString(ui.Success("password set") + "\n\n  ")
		b.WriteString(m.confirmInput.View())
	}
	b.WriteString("\n")
	if m.busy {
		b.WriteString(fmt.Sprintf("\n  %s Encrypting key...\n", m.spinner.View()))
	}
	b.WriteString("\n")
	b.WriteString(ui.HelpStyle.Render("  Enter to continue • Esc back"))
	return b.String()
}

func (m WizardModel) viewComplete() string {
	signer := ui.DimStyle.Render("not configured")
	switch {
	case m.usesEnvKey:
		signer = m.status.EnvKeyVar
	case m.walletAddress != "":
		signer = ui.ShortHex(m.walletAddress)
	}

	content := strings.Join([]string{
		ui.TitleStyle.Render("Ready"),
		"",
		ui.KeyValue("App", ui.ShortHex(m.appAddress)),
		ui.KeyValue("Signer", signer),
		ui.KeyValue("Config", m.status.ConfigPath),
		"",
		ui.DimStyle.Render("Next: permitflow approve, then permitflow run"),
	}, "\n")

	return "\n\n" + ui.BoxStyle.Render(content) + "\n\n" + ui.HelpStyle.Render("  Press Enter to exit...")
}

// RunWizard runs the wizard on the terminal. It returns immediately when
// everything is configured.
func RunWizard(dataDir, configPath string) (*Result, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	status, err := DetectStatus(dataDir, configPath)
	if err != nil {
		return nil, err
	}
	if status.Complete() {
		return &Result{
			ConfigPath:    status.ConfigPath,
			AppAddress:    status.AppAddress,
			WalletAddress: status.WalletAddress,
		}, nil
	}

	final, err := tea.NewProgram(NewWizard(dataDir, status), tea.WithAltScreen()).Run()
	if err != nil {
		return nil, err
	}
	return final.(WizardModel).result, nil
}

// PrintEnvInstructions explains the non-interactive setup.
func PrintEnvInstructions(w io.Writer) {
	fmt.Fprintln(w, "permitflow needs an app contract and a signing key.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Set these in the environment or a .env file:")
	fmt.Fprintln(w, "  PERMITFLOW_APP_ADDRESS=0x...")
	fmt.Fprintln(w, "  PRIVATE_KEY=0x...")
	fmt.Fprintln(w, "  SEPOLIA_KEY=<infura project key>   (optional)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Or run permitflow init in a terminal.")
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
