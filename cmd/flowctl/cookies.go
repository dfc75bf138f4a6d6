package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"flowgen/internal/credentials"
	"flowgen/internal/infra"
)

var cookiesTarget string

var cookiesCmd = &cobra.Command{
	Use:   "cookies <export-file>",
	Short: "Import a browser cookie export as the active session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return importCookies(args[0])
	},
}

func init() {
	cookiesCmd.Flags().StringVar(&cookiesTarget, "to", "", "credentials file to write (defaults to CREDENTIALS_PATH)")
	rootCmd.AddCommand(cookiesCmd)
}

func importCookies(exportPath string) error {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}

	target := cfg.CredentialsPath
	if cookiesTarget != "" {
		target = cookiesTarget
	}

	raw, err := os.ReadFile(exportPath)
	if err != nil {
		return err
	}
	var bundle credentials.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("%s is not a cookie export: %w", exportPath, err)
	}

	store, err := credentials.NewStore(target)
	if err != nil {
		return err
	}
	count, err := store.Replace(bundle)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d cookies into %s\n", count, target)
	if active, err := store.Active(); err == nil {
		if email, ok := active.Email(); ok {
			fmt.Printf("session account: %s\n", email)
		}
	}
	return nil
}
