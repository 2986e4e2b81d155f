package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/ytget/turkanime"
	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/internal/config"
	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/internal/sanitize"
	"github.com/ytget/turkanime/internal/solver"
	"github.com/ytget/turkanime/origin/streams"
	"github.com/ytget/turkanime/types"
)

const usage = `Usage: %s [flags] <command> [args]

Commands:
  resolve <ref>...          print the playable URL behind masked links or encrypted payloads
  search <query>            search titles
  episodes <slug>           list episodes of a title
  streams <episode-slug>    list sources of an episode
  streams <slug> <number>   list sources of episode <number> of a title
  playlist <url>            write the best HLS variant to a temporary .m3u8 file
  download <ref>            download a direct media URL
  download <slug> <number>  download the first direct source of an episode

Flags:
`

func main() {
	var (
		flagConfig     string
		flagLogConfig  string
		flagSolver     string
		flagSolverURL  string
		flagProxy      string
		flagMirrors    []string
		flagRateLimit  int
		flagCacheDir   string
		flagOutput     string
		flagTitle      string
		flagNoProgress bool
		flagDLRate     string
		flagMaxHeight  int
	)

	pflag.StringVarP(&flagConfig, "config", "c", "", "KEY=VALUE settings file")
	pflag.StringVar(&flagLogConfig, "log-config", "", "JSON logger configuration file")
	pflag.StringVar(&flagSolver, "solver", "", "Challenge solver mode: off, auto, force")
	pflag.StringVar(&flagSolverURL, "solver-url", "", "FlareSolverr endpoint (default $FLARESOLVERR_URL)")
	pflag.StringVar(&flagProxy, "proxy", "", "Proxy URL (http/https/socks)")
	pflag.StringSliceVar(&flagMirrors, "mirror", nil, "Origin base URL to probe (repeatable)")
	pflag.IntVar(&flagRateLimit, "rate-limit", 0, "Max origin requests per second (0 means unlimited)")
	pflag.StringVar(&flagCacheDir, "cache-dir", "", "Directory of the key cache file")
	pflag.StringVarP(&flagOutput, "output", "o", "", "Download path (file or directory)")
	pflag.StringVarP(&flagTitle, "title", "t", "", "Title used to name downloads")
	pflag.BoolVar(&flagNoProgress, "no-progress", false, "Disable progress output")
	pflag.StringVar(&flagDLRate, "download-rate", "", "Download rate limit (e.g., 2MiB/s, 500KiB/s)")
	pflag.IntVar(&flagMaxHeight, "max-height", 0, "Highest HLS variant to pick (0 means best)")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	args := pflag.Args()
	if len(args) < 2 {
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		fatalf("config: %v", err)
	}
	if flagLogConfig == "" {
		flagLogConfig = cfg.LogConfig
	}
	if _, err := logger.Setup(flagLogConfig); err != nil {
		fatalf("logger: %v", err)
	}
	if flagSolver != "" {
		if cfg.SolverMode, err = solver.ParseMode(flagSolver); err != nil {
			fatalf("%v", err)
		}
	}
	if flagSolverURL != "" {
		cfg.SolverURL = flagSolverURL
	}
	if flagProxy != "" {
		cfg.Proxy = flagProxy
	}
	if len(flagMirrors) > 0 {
		cfg.Mirrors = flagMirrors
	}
	if flagRateLimit > 0 {
		cfg.RateLimit = flagRateLimit
	}
	if flagCacheDir != "" {
		cfg.CacheDir = flagCacheDir
	}

	r := turkanime.NewFromConfig(cfg).WithMaxHeight(flagMaxHeight)
	if flagOutput != "" {
		r = r.WithOutputPath(flagOutput)
	}
	if bps := parseRate(flagDLRate); bps > 0 {
		r = r.WithDownloadRateLimit(bps)
	}
	if !flagNoProgress {
		r = r.WithProgress(func(p turkanime.Progress) {
			if p.TotalSize > 0 {
				_, _ = fmt.Fprintf(os.Stdout, "Downloaded %.1f%%\r", p.Percent)
			}
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, r, args[0], args[1:], flagTitle); err != nil {
		fatalf("%v", err)
	}
}

func run(ctx context.Context, r *turkanime.Resolver, cmd string, args []string, title string) error {
	heading := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	switch cmd {
	case "resolve":
		for _, ref := range args {
			u, err := r.Resolve(ctx, ref)
			if err != nil {
				return err
			}
			fmt.Println(u)
		}
	case "search":
		results, err := r.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		for _, res := range results {
			fmt.Printf("%s\t%s\n", heading(res.Slug), res.Title)
		}
	case "episodes":
		eps, err := r.Episodes(ctx, args[0])
		if err != nil {
			return err
		}
		for _, ep := range eps {
			fmt.Printf("%4d  %s\n", ep.Number, ep.Slug)
		}
	case "streams":
		slug := args[0]
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("episode number: %w", err)
			}
			ep, err := r.Episode(ctx, slug, n)
			if err != nil {
				return err
			}
			slug = ep.Slug
		}
		list, err := r.Streams(ctx, slug)
		if err != nil {
			return err
		}
		printStreams(list, heading, dim)
	case "playlist":
		path, err := r.Playlist(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(path)
	case "download":
		ref := args[0]
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("episode number: %w", err)
			}
			if ref, err = episodeSource(ctx, r, args[0], n); err != nil {
				return err
			}
			if title == "" {
				title = args[0]
				if a, err := r.Anime(ctx, args[0]); err == nil {
					title = a.Title
				}
				title = sanitize.EpisodeTitle(title, n)
			}
		}
		path, err := r.Download(ctx, ref, title)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "\nSaved: %s\n", path)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// episodeSource returns the first direct source of episode n, trying
// resolved player links when no plain file link is listed.
func episodeSource(ctx context.Context, r *turkanime.Resolver, slug string, n int) (string, error) {
	ep, err := r.Episode(ctx, slug, n)
	if err != nil {
		return "", err
	}
	list, err := r.Streams(ctx, ep.Slug)
	if err != nil {
		return "", err
	}
	for _, s := range list {
		if s.Kind == streams.KindDirect.String() {
			return s.URL, nil
		}
	}
	return "", fmt.Errorf("%s: no direct source: %w", ep.Slug, errs.ErrNotFound)
}

func printStreams(list []types.Stream, heading, dim func(a ...interface{}) string) {
	for _, s := range list {
		fmt.Printf("%s %s %s\n  %s\n", heading(s.Player), s.Fansub, dim("["+s.Kind+"]"), s.URL)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// parseRate parses strings like "2MiB/s", "500KiB/s" into bytes per second.
func parseRate(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "/S"))
	mul := int64(1)
	for _, u := range []struct {
		suffix string
		mul    int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"KB", 1000}, {"MB", 1000 * 1000}, {"GB", 1000 * 1000 * 1000},
	} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mul = u.mul
			break
		}
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil || val <= 0 {
		return 0
	}
	return int64(val * float64(mul))
}
