package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	cerrors "github.com/i5heu/ouroboros-cryptree/pkg/errors"
	"github.com/i5heu/ouroboros-cryptree/pkg/session"
	"github.com/spf13/cobra"
)

var lsAll bool

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		p := ""
		if len(args) == 1 {
			p = args[0]
		}
		entry, err := a.resolve(ctx, p)
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			printEntries(os.Stdout, []session.Entry{entry})
			return nil
		}
		entries, err := a.uc.List(ctx, entry.Pointer)
		if err != nil {
			return err
		}
		if !lsAll {
			entries = session.Visible(entries)
		}
		printEntries(os.Stdout, entries)
		return nil
	}),
}

func printEntries(out io.Writer, entries []session.Entry) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(tw, "%s\t-\t%s\n", color.BlueString(e.Name()+"/"), humanize.Time(e.Properties.Modified))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name(), humanize.Bytes(uint64(e.Properties.Size)), humanize.Time(e.Properties.Modified))
	}
	_ = tw.Flush()
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		parent, name, err := a.resolveParent(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = a.uc.Mkdir(ctx, parent.Pointer, name)
		return err
	}),
}

var putCmd = &cobra.Command{
	Use:   "put <local file> <path>",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		parent, name, err := a.resolveParent(ctx, args[1])
		if err != nil {
			return err
		}
		// put into an existing directory keeps the local name
		if existing, err := a.uc.Lookup(ctx, parent.Pointer, name); err == nil && existing.IsDir() {
			parent, name = existing, filepath.Base(args[0])
		}
		if _, err := a.uc.UploadFile(ctx, parent.Pointer, name, f); err != nil {
			return err
		}
		fmt.Println(color.GreenString("stored"), name)
		return nil
	}),
}

var getCmd = &cobra.Command{
	Use:   "get <path> [local file]",
	Short: "Download a file, to stdout when no local file is given",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		entry, err := a.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		return download(ctx, a.uc, entry.Pointer, args[1:])
	}),
}

func download(ctx context.Context, uc *session.UserContext, p session.FilePointer, dst []string) error {
	rc, props, err := uc.OpenFile(ctx, p)
	if err != nil {
		return err
	}
	defer rc.Close()

	var out io.Writer = os.Stdout
	if len(dst) == 1 && dst[0] != "-" {
		f, err := os.Create(dst[0])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	n, err := io.Copy(out, rc)
	if err != nil {
		return err
	}
	if out != os.Stdout {
		fmt.Fprintln(os.Stderr, color.GreenString("retrieved"), props.Name, humanize.Bytes(uint64(n)))
	}
	return nil
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file or a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		parent, name, err := a.resolveParent(ctx, args[0])
		if err != nil {
			return err
		}
		child, err := a.uc.Lookup(ctx, parent.Pointer, name)
		if err != nil {
			return err
		}
		return a.uc.Remove(ctx, parent.Pointer, child.Pointer)
	}),
}

var mvCmd = &cobra.Command{
	Use:   "mv <path> <new name>",
	Short: "Rename an entry in place",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		parent, name, err := a.resolveParent(ctx, args[0])
		if err != nil {
			return err
		}
		child, err := a.uc.Lookup(ctx, parent.Pointer, name)
		if err != nil {
			return err
		}
		return a.uc.Rename(ctx, parent.Pointer, child.Pointer, args[1])
	}),
}

var linkCmd = &cobra.Command{
	Use:   "link <path>",
	Short: "Print a read-only link to an entry",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		entry, err := a.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(entry.Pointer.ReadOnly().Link())
		return nil
	}),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <link> [local file]",
	Short: "Download a file or list a directory through a link",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		p, err := session.ParseLink(args[0])
		if err != nil {
			return err
		}
		err = download(ctx, a.uc, p, args[1:])
		if !errors.Is(err, cerrors.ErrIsDirectory) {
			return err
		}
		entries, err := a.uc.List(ctx, p)
		if err != nil {
			return err
		}
		printEntries(os.Stdout, session.Visible(entries))
		return nil
	}),
}

func init() {
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "include hidden entries")
	rootCmd.AddCommand(lsCmd, mkdirCmd, putCmd, getCmd, rmCmd, mvCmd, linkCmd, fetchCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		st, err := a.db.Stats()
		if err != nil {
			return err
		}
		fmt.Println("Store statistics:")
		fmt.Printf("  Metadata:   %s\n", humanize.Comma(int64(st.Metadata)))
		fmt.Printf("  Fragments:  %s\n", humanize.Comma(int64(st.Fragments)))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
