package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/shatterbird/birdfs/pkg/models"
	"github.com/shatterbird/birdfs/pkg/vfs"
)

func cmdLs(args []string) error {
	fs, common := newFlagSet("ls", "ls [flags] [path]")
	long := fs.BoolP("long", "l", false, "show kind and size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := pathArg(fs)
	if err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	_, view, err := newView(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	children, err := view.ReadDir(ctx, path)
	if err != nil {
		return err
	}
	return printListing(ctx, os.Stdout, children, *long)
}

func printListing(ctx context.Context, w io.Writer, children []*vfs.Node, long bool) error {
	if !long {
		for _, c := range children {
			name := c.Name()
			if c.IsDir() {
				name += "/"
			}
			fmt.Fprintln(w, name)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range children {
		fi, err := c.Stat(ctx)
		if err != nil {
			return fmt.Errorf("stat %s: %w", c.Name(), err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", fi.Mode(), kindLabel(c), fi.Size(), c.Name())
	}
	return tw.Flush()
}

func kindLabel(n *vfs.Node) string {
	if k := n.ContentKind(); k != "" {
		return string(k)
	}
	return n.Kind().String()
}

func cmdStat(args []string) error {
	fs, common := newFlagSet("stat", "stat [flags] [path]")
	byID := fs.String("id", "", "show the kind of a node by its id instead of a path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	c, view, err := newView(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	if *byID != "" {
		info, err := c.GetNodeInfo(ctx, models.ID{OID: *byID})
		if err != nil {
			return err
		}
		fmt.Printf("id:   %s\nkind: %s\n", info.ID, info.Kind)
		return nil
	}

	path, err := pathArg(fs)
	if err != nil {
		return err
	}
	n, err := view.Resolve(ctx, path)
	if err != nil {
		return err
	}
	fi, err := n.Stat(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("name: %s\nkind: %s\nmode: %s\nsize: %d\n", fi.Name(), kindLabel(n), fi.Mode(), fi.Size())
	if !n.ID().IsZero() {
		fmt.Printf("id:   %s\n", n.ID())
	}
	if commit := n.Commit(); commit != nil {
		fmt.Printf("commit: %s\n", commit.ID)
		for _, p := range commit.Parents {
			fmt.Printf("parent: %s\n", p)
		}
	}
	return nil
}

func cmdCat(args []string) error {
	fs, common := newFlagSet("cat", "cat [flags] <path>")
	force := fs.BoolP("force", "f", false, "write binary content to a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("path is required")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	_, view, err := newView(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	data, err := view.ReadFile(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if !*force && term.IsTerminal(int(os.Stdout.Fd())) && isBinary(data) {
		return fmt.Errorf("%s is binary; use --force to print it anyway", fs.Arg(0))
	}
	_, err = os.Stdout.Write(data)
	return err
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)
}
