// Package main is a command-line client for a rootshare server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fruitsalade/rootshare/pkg/client"
)

func main() {
	serverURL := flag.String("server", envOr("ROOTSHARE_SERVER", "http://localhost:3000"), "Server URL")
	timeout := flag.Duration("timeout", 0, "Per-request timeout (0 = none)")
	asJSON := flag.Bool("json", false, "Print raw JSON responses")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(client.Config{BaseURL: *serverURL, Timeout: *timeout})
	cli := &cli{c: c, json: *asJSON, out: os.Stdout}

	cmd, cmdArgs := args[0], args[1:]
	var err error
	switch cmd {
	case "ls", "list":
		err = cli.ls(ctx, cmdArgs)
	case "stat":
		err = cli.stat(ctx, cmdArgs)
	case "put", "upload":
		err = cli.put(ctx, cmdArgs)
	case "get", "download":
		err = cli.get(ctx, cmdArgs)
	case "mkdir":
		err = cli.mkdir(ctx, cmdArgs)
	case "rm", "delete":
		err = cli.rm(ctx, cmdArgs)
	case "mv", "move":
		err = cli.mv(ctx, cmdArgs)
	case "health":
		err = cli.health(ctx)
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, "Usage: rootshare-cli "+string(usage))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `rootshare CLI

Usage: rootshare-cli [flags] <command> [args]

Flags:
  -server <url>      Server URL (default: $ROOTSHARE_SERVER or http://localhost:3000)
  -timeout <dur>     Per-request timeout (default: none)
  -json              Print raw JSON responses

Commands:
  ls [dir] [glob]          List a directory, optionally filtered
  stat <path>              Show metadata for a path
  put <dir> <file>...      Upload local files into dir
  get <path> [dest]        Download a file (dest "-" = stdout)
  mkdir <parent> <name>    Create a directory
  rm <path>                Delete a file or directory tree
  mv <from> <to>           Move or rename
  health                   Show server status

Examples:
  rootshare-cli ls /
  rootshare-cli ls /photos "*.jpg"
  rootshare-cli put /docs report.pdf notes.txt
  rootshare-cli get /docs/report.pdf
  rootshare-cli mv /docs/report.pdf /archive/report.pdf`)
}

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

type cli struct {
	c    *client.Client
	json bool
	out  io.Writer
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) ls(ctx context.Context, args []string) error {
	dir, pattern := "/", ""
	switch len(args) {
	case 2:
		pattern = args[1]
		fallthrough
	case 1:
		dir = args[0]
	case 0:
	default:
		return usageError("ls [dir] [glob]")
	}

	resp, err := c.c.List(ctx, dir, client.ListOptions{Sort: "name", Pattern: pattern})
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(resp)
	}
	if len(resp.Files) == 0 {
		fmt.Fprintln(c.out, "Directory is empty")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	fmt.Fprintln(w, "----\t----\t--------")
	for _, e := range resp.Files {
		name, size := e.Name, formatSize(e.Size)
		if e.IsDirectory {
			name, size = name+"/", "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, size, formatTime(e.UpdatedAt))
	}
	return w.Flush()
}

func (c *cli) stat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("stat <path>")
	}
	e, err := c.c.Stat(ctx, args[0])
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(e)
	}
	kind := "file"
	if e.IsDirectory {
		kind = "directory"
	}
	fmt.Fprintf(c.out, "Path:       %s\n", args[0])
	fmt.Fprintf(c.out, "Type:       %s\n", kind)
	fmt.Fprintf(c.out, "Size:       %s\n", formatSize(e.Size))
	fmt.Fprintf(c.out, "Modified:   %s\n", formatTime(e.UpdatedAt))
	return nil
}

func (c *cli) put(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("put <dir> <file>...")
	}
	dir := args[0]

	files := make([]client.UploadFile, 0, len(args)-1)
	for _, p := range args[1:] {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		files = append(files, client.UploadFile{Name: filepath.Base(p), Body: f})
	}

	resp, err := c.c.Upload(ctx, dir, files...)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(resp)
	}
	for _, name := range resp.Files {
		fmt.Fprintf(c.out, "Uploaded: %s\n", path.Join(dir, name))
	}
	for _, f := range resp.Failed {
		fmt.Fprintf(c.out, "Failed:   %s (%s)\n", f.Name, f.Message)
	}
	if len(resp.Failed) > 0 {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("get <path> [dest]")
	}
	src := args[0]
	dest := path.Base(src)
	if len(args) == 2 {
		dest = args[1]
	}

	dl, err := c.c.Download(ctx, src)
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	if dest == "-" {
		_, err := io.Copy(c.out, dl.Body)
		return err
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, path.Base(src))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".rootshare-get-*")
	if err != nil {
		return err
	}
	n, err := io.Copy(tmp, dl.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	fmt.Fprintf(c.out, "Downloaded: %s (%s)\n", dest, formatSize(n))
	return nil
}

func (c *cli) mkdir(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("mkdir <parent> <name>")
	}
	p, err := c.c.Mkdir(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created: %s\n", p)
	return nil
}

func (c *cli) rm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("rm <path>")
	}
	if err := c.c.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted: %s\n", args[0])
	return nil
}

func (c *cli) mv(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("mv <from> <to>")
	}
	if err := c.c.Move(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Moved: %s -> %s\n", args[0], args[1])
	return nil
}

func (c *cli) health(ctx context.Context) error {
	h, err := c.c.Health(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(h)
	}
	fmt.Fprintf(c.out, "Status:     %s\n", h.Status)
	fmt.Fprintf(c.out, "Root:       %s\n", h.Root)
	fmt.Fprintf(c.out, "Backend:    %s\n", h.Backend)
	if h.Disk != nil {
		fmt.Fprintf(c.out, "Disk:       %s free of %s\n",
			formatSize(int64(h.Disk.Free)), formatSize(int64(h.Disk.Total)))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
