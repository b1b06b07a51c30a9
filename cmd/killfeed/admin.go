package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ernie/killfeed/internal/auth"
	"github.com/ernie/killfeed/internal/config"
	"github.com/ernie/killfeed/internal/domain"
	"github.com/ernie/killfeed/internal/storage"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

// openStore loads the config named by --config in args and opens its database.
// The remaining positional arguments are returned.
func openStore(name string, args []string) (*storage.Store, *config.Config, []string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	return store, cfg, fs.Args()
}

// exitOnError prints err and exits when it is non-nil
func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdServer(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: server subcommand required: add, list, remove, channels\n")
		os.Exit(1)
	}

	subCmd := args[0]
	ctx := context.Background()

	switch subCmd {
	case "add":
		exitOnError(cmdServerAdd(ctx, args[1:]))
	case "list":
		store, _, _ := openStore("server list", args[1:])
		defer store.Close()
		exitOnError(cmdServerList(ctx, store))
	case "remove":
		store, _, remaining := openStore("server remove", args[1:])
		defer store.Close()
		exitOnError(cmdServerRemove(ctx, store, remaining))
	case "channels":
		exitOnError(cmdServerChannels(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown server command: %s (use: add, list, remove, channels)\n", subCmd)
		os.Exit(1)
	}
}

func cmdServerAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server add", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	endpoint := fs.String("endpoint", "", "base directory of the server's files")
	logPath := fs.String("log-path", "", "server log, relative to the endpoint")
	deathLogDir := fs.String("death-log-dir", "", "death log directory, relative to the endpoint")
	logChannel := fs.String("log-channel", "", "channel for server events")
	killfeedChannel := fs.String("killfeed-channel", "", "channel for kills and deaths")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 || *endpoint == "" {
		return fmt.Errorf("usage: killfeed server add <name> --endpoint DIR [--log-path P] [--death-log-dir D]")
	}
	if *logPath == "" && *deathLogDir == "" {
		return fmt.Errorf("--log-path or --death-log-dir is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	name := remaining[0]
	if _, err := store.GetServerByName(ctx, name); err == nil {
		return fmt.Errorf("server '%s' already exists", name)
	}

	srv := &domain.Server{
		Name:            name,
		Endpoint:        *endpoint,
		LogPath:         *logPath,
		DeathLogDir:     *deathLogDir,
		LogChannel:      *logChannel,
		KillfeedChannel: *killfeedChannel,
	}
	if err := store.CreateServer(ctx, srv); err != nil {
		return fmt.Errorf("failed to add server: %w", err)
	}
	fmt.Printf("Server '%s' registered (id %s)\n", srv.Name, srv.ID)
	return nil
}

func cmdServerList(ctx context.Context, store *storage.Store) error {
	servers, err := store.GetServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}
	if len(servers) == 0 {
		fmt.Println("No servers registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tSERVER LOG\tDEATH LOGS\tLOG CHANNEL\tKILLFEED CHANNEL")
	fmt.Fprintln(w, "----\t--\t----------\t----------\t-----------\t----------------")
	for _, srv := range servers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", srv.Name, srv.ID,
			orDash(srv.LogPath), orDash(srv.DeathLogDir), orDash(srv.LogChannel), orDash(srv.KillfeedChannel))
	}
	return w.Flush()
}

func cmdServerRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: killfeed server remove <name>")
	}
	srv, err := store.GetServerByName(ctx, args[0])
	if err != nil {
		return fmt.Errorf("server not found: %s", args[0])
	}
	if err := store.DeleteServer(ctx, srv.ID); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	fmt.Printf("Server '%s' removed\n", srv.Name)
	return nil
}

func cmdServerChannels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server channels", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	logChannel := fs.String("log", "", "channel for server events (empty disables)")
	killfeedChannel := fs.String("killfeed", "", "channel for kills and deaths (empty disables)")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: killfeed server channels <name> [--log C] [--killfeed C]")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	srv, err := store.GetServerByName(ctx, remaining[0])
	if err != nil {
		return fmt.Errorf("server not found: %s", remaining[0])
	}
	if fs.Changed("log") {
		srv.LogChannel = *logChannel
	}
	if fs.Changed("killfeed") {
		srv.KillfeedChannel = *killfeedChannel
	}
	if err := store.UpdateChannels(ctx, srv.ID, srv.LogChannel, srv.KillfeedChannel); err != nil {
		return fmt.Errorf("failed to update channels: %w", err)
	}
	fmt.Printf("Server '%s': log channel %s, killfeed channel %s\n", srv.Name, orDash(srv.LogChannel), orDash(srv.KillfeedChannel))
	return nil
}

func cmdOperator(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: operator subcommand required: add, remove, list, reset, admin\n")
		os.Exit(1)
	}

	subCmd := args[0]
	store, _, remaining := openStore("operator "+subCmd, args[1:])
	defer store.Close()

	ctx := context.Background()

	switch subCmd {
	case "add":
		exitOnError(cmdOperatorAdd(ctx, store, args[1:]))
	case "remove":
		exitOnError(cmdOperatorRemove(ctx, store, remaining))
	case "list":
		exitOnError(cmdOperatorList(ctx, store))
	case "reset":
		exitOnError(cmdOperatorReset(ctx, store, remaining))
	case "admin":
		exitOnError(cmdOperatorAdmin(ctx, store, remaining))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown operator command: %s (use: add, remove, list, reset, admin)\n", subCmd)
		os.Exit(1)
	}
}

// promptNewPassword reads a password twice from the terminal
func promptNewPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdOperatorAdd(ctx context.Context, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("operator add", flag.ExitOnError)
	fs.String("config", "", "path to configuration file")
	isAdmin := fs.Bool("admin", false, "create as admin operator")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: killfeed operator add [--admin] <username>")
	}
	username := remaining[0]

	if _, err := store.GetOperatorByUsername(ctx, username); err == nil {
		return fmt.Errorf("operator '%s' already exists", username)
	}

	password, err := promptNewPassword("Enter password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.CreateOperator(ctx, &domain.Operator{Username: username, PasswordHash: hash, IsAdmin: *isAdmin}); err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}

	roleStr := "operator"
	if *isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("Operator '%s' created successfully (role: %s)\n", username, roleStr)
	return nil
}

func cmdOperatorRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: killfeed operator remove <username>")
	}
	if err := store.DeleteOperator(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to remove operator: %w", err)
	}
	fmt.Printf("Operator '%s' removed\n", args[0])
	return nil
}

func cmdOperatorList(ctx context.Context, store *storage.Store) error {
	ops, err := store.ListOperators(ctx)
	if err != nil {
		return fmt.Errorf("failed to list operators: %w", err)
	}
	if len(ops) == 0 {
		fmt.Println("No operators configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tLAST_LOGIN")
	fmt.Fprintln(w, "--------\t----\t----------")
	for _, op := range ops {
		role := "operator"
		if op.IsAdmin {
			role = "admin"
		}
		lastLogin := "never"
		if op.LastLogin != nil {
			lastLogin = op.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", op.Username, role, lastLogin)
	}
	return w.Flush()
}

func cmdOperatorReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: killfeed operator reset <username>")
	}
	username := args[0]
	if _, err := store.GetOperatorByUsername(ctx, username); err != nil {
		return fmt.Errorf("operator not found: %s", username)
	}

	password, err := promptNewPassword("Enter new password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := store.UpdateOperatorPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	fmt.Printf("Password reset for '%s'\n", username)
	return nil
}

func cmdOperatorAdmin(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: killfeed operator admin <username>")
	}
	username := args[0]

	op, err := store.GetOperatorByUsername(ctx, username)
	if errors.Is(err, storage.ErrOperatorNotFound) {
		return fmt.Errorf("operator not found: %s", username)
	}
	if err != nil {
		return err
	}

	newAdminStatus := !op.IsAdmin
	if err := store.SetOperatorAdmin(ctx, username, newAdminStatus); err != nil {
		return fmt.Errorf("failed to update admin status: %w", err)
	}

	if newAdminStatus {
		fmt.Printf("Operator '%s' is now an admin\n", username)
	} else {
		fmt.Printf("Operator '%s' is no longer an admin\n", username)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
