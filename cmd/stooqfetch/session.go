package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"stooqfetch/pkg/config"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the persisted session",
	Long: `Inspect or clear the persisted site session.

The session cookie blob is stored in one of three backends, selected by
the session.backend config key:
  - file       plain JSON file
  - encrypted  AES-GCM encrypted file, passphrase-protected
  - keyring    system keychain`,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted session state",
	Args:  cobra.NoArgs,
	RunE:  runSessionShow,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persisted session",
	Args:  cobra.NoArgs,
	RunE:  runSessionClear,
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}

// buildSessionStore selects the cookie store backend from config
func buildSessionStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case "file":
		return session.NewFileStore(cfg.Session.CookiePath), nil
	case "encrypted":
		passphrase := cfg.Session.Passphrase
		if passphrase == "" {
			var err error
			passphrase, err = promptPassphrase()
			if err != nil {
				return nil, err
			}
		}
		return session.NewEncryptedFileStore(cfg.Session.CookiePath, passphrase)
	case "keyring":
		return session.NewKeyringStore()
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
}

// promptPassphrase reads the store passphrase without echoing it
func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Session store passphrase: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return string(raw), nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	manager := session.NewManager(store, logger.GetLogger())

	state, err := manager.Resume()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Println("No persisted session.")
		return nil
	}

	fmt.Printf("Backend:       %s\n", cfg.Session.Backend)
	fmt.Printf("Cookies:       %d\n", len(state.Cookies))
	for _, c := range state.Cookies {
		fmt.Printf("  %-16s domain=%s path=%s\n", c.Name, c.Domain, c.Path)
	}
	if state.LastVerified.IsZero() {
		fmt.Println("Last verified: never")
	} else {
		fmt.Printf("Last verified: %s\n", state.LastVerified.Format("2006-01-02 15:04:05"))
	}
	fmt.Println("A persisted session is re-verified by a probe before each run trusts it.")
	return nil
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	manager := session.NewManager(store, logger.GetLogger())

	if err := manager.Clear(); err != nil {
		return err
	}
	fmt.Println("Persisted session cleared.")
	return nil
}
