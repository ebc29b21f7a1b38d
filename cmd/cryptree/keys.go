package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/spf13/cobra"
)

var (
	keygenUsername string
	keygenForce    bool
	initName       string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the local identity",
	Long: `Creates a random signing and box key pair. With --username the keys are
derived from the username and a password read from stdin, so the same pair
can be recreated anywhere.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(dataDir, identityFile)
		if _, err := os.Stat(path); err == nil && !keygenForce {
			return fmt.Errorf("%s exists, use --force to replace it", path)
		}

		var user *identity.User
		var err error
		if keygenUsername != "" {
			fmt.Fprint(os.Stderr, "password: ")
			line, rerr := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if rerr != nil && line == "" {
				return fmt.Errorf("read password: %w", rerr)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}
			user, err = identity.FromPassword(keygenUsername, password, identity.DefaultPasswordParams)
		} else {
			user, err = identity.Random()
		}
		if err != nil {
			return err
		}

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(path, user.SecretKeys(), 0o600); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("identity written"), path)
		fmt.Fprintln(cmd.OutOrStdout(), "public key:", user.Public().Hex())
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the local public key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := loadIdentity()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), user.Public().Hex())
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty root directory and remember its pointer",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		path := filepath.Join(dataDir, rootFile)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists", path)
		}
		root, err := a.uc.CreateRoot(ctx, initName)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, root.Serialize(), 0o600); err != nil {
			return err
		}
		fmt.Println(color.GreenString("root created"), root.Location().String())
		return nil
	}),
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenUsername, "username", "u", "", "derive keys from username and a password on stdin")
	keygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "replace an existing identity")
	initCmd.Flags().StringVarP(&initName, "name", "n", "root", "name of the root directory")

	rootCmd.AddCommand(keygenCmd, whoamiCmd, initCmd)
}
