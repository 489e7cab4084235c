package setup

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yolodolo42/permitflow/internal/wallet"
)

// createWallet creates or imports a keystore account with the entered password.
func (m WizardModel) createWallet() tea.Cmd {
	password := m.passwordInput.Value()
	key := m.keyInput.Value()
	dataDir := m.dataDir

	return func() tea.Msg {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err != nil {
			return walletCreatedMsg{err: err}
		}

		if key != "" {
			account, err := km.ImportKey(key, password)
			if err != nil {
				return walletCreatedMsg{err: err}
			}
			return walletCreatedMsg{address: account.Address.Hex()}
		}

		account, err := km.CreateAccount(password)
		if err != nil {
			return walletCreatedMsg{err: err}
		}
		return walletCreatedMsg{address: account.Address.Hex()}
	}
}

// saveConfig writes the collected answers.
func (m WizardModel) saveConfig() tea.Cmd {
	path := m.status.ConfigPath
	values := map[string]string{
		"app_address": m.appAddress,
		"account":     m.walletAddress,
	}
	if m.usesEnvKey {
		values["account"] = ""
	}
	return func() tea.Msg {
		return configSavedMsg{err: WriteConfig(path, values)}
	}
}
