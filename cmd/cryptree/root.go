package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	ouroboros "github.com/i5heu/ouroboros-cryptree"
	"github.com/i5heu/ouroboros-cryptree/internal/config"
	"github.com/i5heu/ouroboros-cryptree/pkg/identity"
	"github.com/i5heu/ouroboros-cryptree/pkg/session"
	"github.com/spf13/cobra"
)

const (
	identityFile = "identity"
	rootFile     = "root.ptr"
	configFile   = "config.yaml"
)

var (
	dataDir string
	verbose bool

	rootCmd = &cobra.Command{
		Use:           "cryptree",
		Short:         "Encrypted, erasure coded file tree",
		Long:          `cryptree stores a directory tree as encrypted chunks split into Reed-Solomon fragments. Every node is opened by a key derived from its parent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "D", config.DefaultDir(), "directory holding identity, root pointer and store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func loadConfig() (config.Config, error) {
	conf, err := config.Load(filepath.Join(dataDir, configFile))
	if err != nil {
		return conf, err
	}
	conf.DataDir = dataDir
	if verbose {
		conf.LogLevel = "debug"
	}
	return conf, nil
}

func loadIdentity() (*identity.User, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, identityFile))
	if err != nil {
		return nil, fmt.Errorf("read identity (run keygen first): %w", err)
	}
	return identity.FromSecretKeys(raw)
}

func loadRoot() (session.FilePointer, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, rootFile))
	if err != nil {
		return session.FilePointer{}, fmt.Errorf("read root pointer (run init first): %w", err)
	}
	return session.DeserializeFilePointer(raw)
}

// app is an open store plus the session of the local identity.
type app struct {
	db *ouroboros.OuroborosDB
	uc *session.UserContext
}

func openApp(ctx context.Context) (*app, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	user, err := loadIdentity()
	if err != nil {
		return nil, err
	}
	db, err := ouroboros.New(conf.Store())
	if err != nil {
		return nil, err
	}
	if err := db.Start(ctx); err != nil {
		return nil, err
	}
	uc, err := db.Session(user)
	if err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return &app{db: db, uc: uc}, nil
}

func (a *app) close(ctx context.Context) {
	a.uc.Close()
	if err := a.db.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "close store:", err)
	}
}

// resolve walks p from the saved root.
func (a *app) resolve(ctx context.Context, p string) (session.Entry, error) {
	root, err := loadRoot()
	if err != nil {
		return session.Entry{}, err
	}
	return a.uc.Resolve(ctx, root, p)
}

// resolveParent returns the directory holding p and p's last element.
func (a *app) resolveParent(ctx context.Context, p string) (session.Entry, string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return session.Entry{}, "", fmt.Errorf("path %q names the root", p)
	}
	dir, name := path.Split(clean)
	parent, err := a.resolve(ctx, strings.TrimSuffix(dir, "/"))
	if err != nil {
		return session.Entry{}, "", err
	}
	return parent, name, nil
}

func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)
		return run(ctx, a, args)
	}
}
