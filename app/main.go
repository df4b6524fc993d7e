package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	flags "github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/mail-spam/app/corpus"
	"github.com/umputun/mail-spam/app/filter"
	"github.com/umputun/mail-spam/app/storage"
	"github.com/umputun/mail-spam/app/storage/engine"
	"github.com/umputun/mail-spam/app/webapi"
	"github.com/umputun/mail-spam/lib/bayes"
)

type options struct {
	Corpus struct {
		Dir   string `long:"dir" env:"DIR" default:"data" description:"corpus directory with train/test splits"`
		Watch bool   `long:"watch" env:"WATCH" description:"watch corpus directory and retrain on change"`
	} `group:"corpus" namespace:"corpus" env-namespace:"CORPUS"`

	DB string `long:"db" env:"DB" description:"database url, sqlite file or postgres dsn, persistence disabled if not set"`

	Check string `long:"check" description:"classify the given message and exit"`

	Server struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"run webapi server"`
		ListenAddr string `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string `long:"auth" env:"AUTH" description:"basic auth password for user \"mail-spam\", disabled if not set"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated spam log"`
		FileName   string `long:"file" env:"FILE" default:"mail-spam.log" description:"location of spam log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	ModelName        string `long:"model-name" env:"MODEL_NAME" default:"latest" description:"name to store the fitted model under"`
	MinTokenLen      int    `long:"min-token-len" env:"MIN_TOKEN_LEN" default:"3" description:"drop tokens shorter than this many characters"`
	ExcludeTokenFile string `long:"exclude-tokens" env:"EXCLUDE_TOKENS" description:"file with tokens to exclude, one per line"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("mail-spam %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	p.SubcommandsOptional = true
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Server.AuthPasswd)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, opts options) error {
	cfg, err := makeTokenizerConfig(opts)
	if err != nil {
		return err
	}

	set, err := corpus.LoadDir(opts.Corpus.Dir)
	if err != nil {
		if opts.DB == "" {
			return fmt.Errorf("can't load corpus: %w", err)
		}
		// with persistence the corpus directory is optional, stored samples may be enough
		log.Printf("[WARN] can't load corpus from %s: %v", opts.Corpus.Dir, err)
	} else {
		log.Printf("[INFO] corpus loaded from %s, train: %d, test: %d", opts.Corpus.Dir, len(set.Train), len(set.Test))
	}

	var store *storage.Samples
	var models *storage.Models
	if opts.DB != "" {
		db, err := engine.New(ctx, opts.DB)
		if err != nil {
			return fmt.Errorf("can't make db engine: %w", err)
		}
		defer db.Close()

		if store, err = storage.NewSamples(ctx, db); err != nil {
			return fmt.Errorf("can't make samples store: %w", err)
		}
		if models, err = storage.NewModels(ctx, db); err != nil {
			return fmt.Errorf("can't make models store: %w", err)
		}
		if err := importPresets(ctx, store, set.Train); err != nil {
			return err
		}
		set.Train = nil // presets live in the store now
	}

	var sampleStore filter.SampleStore
	if store != nil { // avoid a non-nil interface wrapping a nil *storage.Samples
		sampleStore = store
	}
	f, err := filter.New(ctx, cfg, set.Train, sampleStore)
	if err != nil {
		return fmt.Errorf("can't make filter: %w", err)
	}
	log.Printf("[INFO] trained %s", f.Model())

	if len(set.Test) > 0 {
		res := bayes.Evaluate(f.Model(), set.Test)
		log.Printf("[INFO] test %s", res)
	}

	if models != nil {
		if err := models.Save(ctx, opts.ModelName, f.Model()); err != nil {
			return fmt.Errorf("can't save model: %w", err)
		}
	}

	if opts.Check != "" {
		reportCheck(opts.Check, f.Check(opts.Check))
		return nil
	}

	if !opts.Server.Enabled {
		return nil // train, evaluate and save only
	}

	if opts.Corpus.Watch {
		go watchCorpus(ctx, opts, store, f)
	}

	loggerWr, err := makeSpamLogWriter(opts)
	if err != nil {
		return fmt.Errorf("can't make spam log writer: %w", err)
	}
	defer loggerWr.Close()

	srv := webapi.NewServer(webapi.Config{
		Version:    revision,
		ListenAddr: opts.Server.ListenAddr,
		Filter:     f,
		SpamLogger: makeSpamLogger(loggerWr),
		AuthPasswd: opts.Server.AuthPasswd,
		Dbg:        opts.Dbg,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("webapi server failed: %w", err)
	}
	return nil
}

// makeTokenizerConfig builds the tokenization config from options, loading the
// excluded tokens file if set
func makeTokenizerConfig(opts options) (bayes.Config, error) {
	cfg := bayes.Config{MinTokenLen: opts.MinTokenLen}
	if opts.ExcludeTokenFile == "" {
		return cfg, nil
	}
	fh, err := os.Open(opts.ExcludeTokenFile) //nolint:gosec // the path comes from the command line
	if err != nil {
		return cfg, fmt.Errorf("can't open exclude tokens file: %w", err)
	}
	defer fh.Close()
	cfg.ExcludedTokens = corpus.ReadLines(fh)
	log.Printf("[DEBUG] loaded %d excluded tokens from %s", len(cfg.ExcludedTokens), opts.ExcludeTokenFile)
	return cfg, nil
}

// importPresets stores corpus samples with the preset origin
func importPresets(ctx context.Context, store *storage.Samples, samples []bayes.Sample) error {
	for _, s := range samples {
		if err := store.Add(ctx, s.Class, storage.OriginPreset, s.Text); err != nil {
			return fmt.Errorf("can't import preset sample: %w", err)
		}
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("can't get store stats: %w", err)
	}
	log.Printf("[INFO] samples store: %s", stats)
	return nil
}

// watchCorpus retrains the filter on corpus directory changes
func watchCorpus(ctx context.Context, opts options, store *storage.Samples, f *filter.Filter) {
	err := corpus.Watch(ctx, []string{opts.Corpus.Dir}, func(path string) error {
		log.Printf("[INFO] corpus change detected: %s", path)
		set, err := corpus.LoadDir(opts.Corpus.Dir)
		if err != nil {
			return fmt.Errorf("can't reload corpus: %w", err)
		}
		if store != nil {
			if err := importPresets(ctx, store, set.Train); err != nil {
				return err
			}
			return f.Reload(ctx)
		}
		return f.SetPresets(ctx, set.Train)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[WARN] corpus watcher failed: %v", err)
	}
}

// reportCheck prints the one-shot check result to stdout
func reportCheck(msg string, res filter.CheckResult) {
	verdict := color.New(color.FgGreen).Sprint(res.Class)
	if res.Spam {
		verdict = color.New(color.FgHiRed).Sprint(res.Class)
	}
	fmt.Printf("%s (%.2f%%): %q\n", verdict, res.Probability, msg)
}

// makeSpamLogger creates a logger writing detected spam as json lines
func makeSpamLogger(wr io.Writer) webapi.SpamLogger {
	return webapi.SpamLoggerFunc(func(msg string, res filter.CheckResult) {
		text := strings.TrimSpace(strings.ReplaceAll(msg, "\n", " "))
		log.Printf("[INFO] spam detected, probability %.2f%%: %s", res.Probability, text)
		m := struct {
			TimeStamp   string  `json:"ts"`
			Text        string  `json:"text"`
			Probability float64 `json:"probability"`
		}{
			TimeStamp:   time.Now().In(time.Local).Format(time.RFC3339),
			Text:        text,
			Probability: res.Probability,
		}
		line, err := json.Marshal(&m)
		if err != nil {
			log.Printf("[WARN] can't marshal json, %v", err)
			return
		}
		if _, err := wr.Write(append(line, '\n')); err != nil {
			log.Printf("[WARN] can't write to log, %v", err)
		}
	})
}

// makeSpamLogWriter creates spam log writer to keep reports about spam messages
// it parses options and makes lumberjack logger with rotation
func makeSpamLogWriter(opts options) (accessLog io.WriteCloser, err error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}
	maxSize /= 1048576

	log.Printf("[INFO] logger enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

// sizeParse converts size strings with k/m/g/t suffixes to bytes
func sizeParse(inp string) (uint64, error) {
	if inp == "" {
		return 0, errors.New("empty value")
	}
	for i, sfx := range []string{"k", "m", "g", "t"} {
		if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
			val, err := strconv.Atoi(inp[:len(inp)-1])
			if err != nil {
				return 0, fmt.Errorf("can't parse %s: %w", inp, err)
			}
			return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
		}
	}
	return strconv.ParseUint(inp, 10, 64)
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	secretsToHide := []string{}
	for _, s := range secrets {
		if s != "" {
			secretsToHide = append(secretsToHide, s)
		}
	}
	if len(secretsToHide) > 0 {
		logOpts = append(logOpts, lgr.Secret(secretsToHide...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
