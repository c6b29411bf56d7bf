// viewtally is the interactive admin shell.
//
// Usage:
//
//	viewtally [-config config.yaml] [-db path] [command args...]
//
// Without a command it opens an interactive prompt. Both modes ask for the
// admin password first.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/viewtally/internal/auth"
	"github.com/xtxerr/viewtally/internal/loader"
	"github.com/xtxerr/viewtally/internal/logging"
	"github.com/xtxerr/viewtally/internal/manager"
	"github.com/xtxerr/viewtally/internal/shell"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dbPath := flag.String("db", "", "metastore database path (overrides config)")
	flag.Parse()

	if err := run(*cfgPath, *dbPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "viewtally: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, dbPath string, args []string) error {
	cfg, err := loader.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Metastore.Path = dbPath
	}
	if err := loader.Validate(cfg); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	// Logs go to stderr so tables on stdout stay readable.
	logging.InitWriter(os.Stderr, level, cfg.Logging.JSON)

	gate, err := auth.FromEnv(cfg.Auth.PasswordEnv)
	if err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if err := gate.Check(password); err != nil {
		return err
	}

	mgr, err := manager.New(cfg)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	defer mgr.Close()

	ctx := context.Background()
	sh := shell.New(mgr, os.Stdout)

	if len(args) > 0 {
		sh.Execute(ctx, strings.Join(args, " "))
		return nil
	}

	fmt.Printf("viewtally %s, type help for commands\n", Version)
	p := prompt.New(
		func(line string) { sh.Execute(ctx, line) },
		sh.Complete,
		prompt.OptionPrefix("viewtally> "),
		prompt.OptionTitle("viewtally"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && shell.IsExit(in)
		}),
	)
	p.Run()
	return nil
}

// readPassword reads the admin password without echo on a terminal, or as
// the first line of stdin otherwise.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
