package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ernie/killfeed/internal/auth"
	"github.com/ernie/killfeed/internal/collector"
	"github.com/ernie/killfeed/internal/domain"
	flag "github.com/spf13/pflag"
)

// cmdClassify prints what the classifier makes of each line of a log
// file. Useful when the game changes its log grammar.
func cmdClassify(args []string) {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	deathLog := fs.Bool("deathlog", false, "parse as a death log (detected from the file name when omitted)")
	showSkipped := fs.Bool("all", false, "also print lines that match no rule")
	fs.Parse(args)

	var content string
	var err error
	isDeathLog := *deathLog
	if fs.NArg() == 0 {
		var data []byte
		data, err = io.ReadAll(os.Stdin)
		content = string(data)
	} else {
		path := fs.Arg(0)
		name := filepath.Base(path)
		isDeathLog = isDeathLog || collector.IsDeathLogName(name)
		// The file reader handles gzip and UTF-16 like the sweeper does
		srv := &domain.Server{Endpoint: filepath.Dir(path)}
		content, err = collector.NewFileReader().ReadFileContent(context.Background(), srv, name)
	}
	exitOnError(err)

	parse := collector.ClassifyServerLine
	if isDeathLog {
		parse = collector.ParseDeathLogLine
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tTIME\tKIND\tSUMMARY")
	var matched, malformed, skipped int
	for i, line := range collector.SplitLines(content, true) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		event, ts, err := parse(line)
		var lineErr *collector.MalformedLineError
		switch {
		case errors.As(err, &lineErr):
			malformed++
			fmt.Fprintf(os.Stderr, "line %d: %v\n", i+1, err)
		case err != nil:
			exitOnError(err)
		case event == nil:
			skipped++
			if *showSkipped {
				fmt.Fprintf(w, "%d\t-\t-\t%s\n", i+1, line)
			}
		default:
			matched++
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, formatTime(ts), event.Kind(), event.Summary())
		}
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "%d classified, %d malformed, %d unmatched\n", matched, malformed, skipped)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	category := fs.String("category", "kills", "kills, deaths, currency or kd_ratio")
	top := fs.Int("top", 20, "number of players to show")
	fs.Parse(args)

	cfgArgs := []string{}
	if *configPath != "" {
		cfgArgs = append(cfgArgs, "--config", *configPath)
	}
	store, _, _ := openStore("leaderboard", cfgArgs)
	defer store.Close()

	stats, err := store.GetLeaderboard(context.Background(), *category, *top)
	exitOnError(err)

	if len(stats) == 0 {
		fmt.Println("No player stats yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPLAYER\tKILLS\tDEATHS\tK/D\tCURRENCY")
	fmt.Fprintln(w, "-\t------\t-----\t------\t---\t--------")
	for i, ps := range stats {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.2f\t%d\n", i+1, ps.Name, ps.Kills, ps.Deaths, ps.KDRatio(), ps.Currency)
	}
	w.Flush()
}

// cmdToken mints an API token signed with the configured secret
func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	isAdmin := fs.Bool("admin", false, "grant admin rights")
	duration := fs.Duration("duration", 0, "token lifetime (default from config)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		exitOnError(fmt.Errorf("usage: killfeed token [--admin] [--duration D] <operator>"))
	}

	cfg, err := loadConfig(*configPath)
	exitOnError(err)
	if cfg.Auth.JWTSecret == "" {
		exitOnError(fmt.Errorf("auth.jwt_secret is not configured"))
	}

	lifetime := cfg.Auth.TokenDuration
	if *duration > 0 {
		lifetime = *duration
	}
	token, err := auth.NewService(cfg.Auth.JWTSecret, lifetime).GenerateToken(fs.Arg(0), *isAdmin)
	exitOnError(err)
	fmt.Println(token)
}
