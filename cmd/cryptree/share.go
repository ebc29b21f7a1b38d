package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/fatih/color"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/session"
	"github.com/spf13/cobra"
)

var shareOwner string

var shareCmd = &cobra.Command{
	Use:   "share <path> <recipient public key>",
	Short: "Seal a read-only entry point for another user",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		recipient, err := parsePublicKey(args[1])
		if err != nil {
			return err
		}
		entry, err := a.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		sealed := a.uc.Share(entry.Pointer, shareOwner, recipient)
		fmt.Println(hex.EncodeToString(sealed))
		return nil
	}),
}

var acceptCmd = &cobra.Command{
	Use:   "accept <sender public key> <sealed entry point>",
	Short: "Open an entry point shared with you and print its link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := loadIdentity()
		if err != nil {
			return err
		}
		sender, err := parsePublicKey(args[0])
		if err != nil {
			return err
		}
		sealed, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("sealed entry point: %w", err)
		}
		ep, err := session.OpenEntryPoint(user, sender, sealed)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("shared by"), ep.OwnerName)
		fmt.Fprintln(cmd.OutOrStdout(), ep.Pointer.Link())
		return nil
	},
}

func parsePublicKey(s string) (identity.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("public key: %w", err)
	}
	return identity.PublicKeyFromBytes(raw)
}

func init() {
	shareCmd.Flags().StringVarP(&shareOwner, "as", "a", "", "name shown to the recipient")
	rootCmd.AddCommand(shareCmd, acceptCmd)
}
