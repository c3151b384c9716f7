// Package main is a one-shot command line intake: it validates a patient
// description, asks the prediction service for a diagnosis and prints the
// ranked chart.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/disease-intake-server/internal/config"
	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/history"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

const (
	exitServiceError    = 1
	exitValidationError = 2
	// A validated record that fails to encode means the catalog and encoder
	// disagree.
	exitEncodingError = 3
)

// options are the parsed command line. Demographics holds one flag per
// taxonomy attribute, keyed by attribute key.
type options struct {
	demographics map[string]*string
	symptoms     *[]string
	url          *string
	timeout      *time.Duration
	width        *int
	record       *bool
	listSymptoms *bool
}

// flagName turns an attribute key into its flag name: age_band -> age-band.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func newFlags(tax *taxonomy.Taxonomy, cfg *config.LiteConfig, stderr io.Writer) (*flag.FlagSet, *options) {
	fs := flag.NewFlagSet("intake", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{demographics: make(map[string]*string, len(tax.Attributes()))}
	for _, attr := range tax.Attributes() {
		usage := fmt.Sprintf("%s (%s)", attr.Label, strings.Join(attr.Values(), "|"))
		opts.demographics[attr.Key] = fs.String(flagName(attr.Key), attr.Default, usage)
	}
	opts.symptoms = fs.StringSlice("symptoms", nil, "comma separated symptom keys that are present")
	opts.url = fs.String("url", cfg.PredictorURL, "prediction service base URL")
	opts.timeout = fs.Duration("timeout", cfg.PredictorTimeout, "prediction request timeout")
	opts.width = fs.Int("width", 40, "chart bar width in characters")
	opts.record = fs.Bool("record", cfg.History, "save the prediction to the local history database")
	opts.listSymptoms = fs.Bool("list-symptoms", false, "print the symptom catalog and exit")
	return fs, opts
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.LoadLiteConfig()
	tax := taxonomy.Default()

	fs, opts := newFlags(tax, cfg, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitValidationError
	}

	if *opts.listSymptoms {
		for _, g := range tax.Groups() {
			fmt.Fprintf(stdout, "%s\n", g.Title)
			for _, f := range g.Fields {
				fmt.Fprintf(stdout, "  %-28s %s\n", f.Key, f.Label)
			}
		}
		return 0
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	values := make(map[string]string, len(opts.demographics))
	for key, v := range opts.demographics {
		values[key] = *v
	}
	var selected []string
	for _, s := range *opts.symptoms {
		if s = strings.TrimSpace(s); s != "" {
			selected = append(selected, s)
		}
	}

	schema := intake.NewSchema(tax)
	rec, err := schema.FromSelected(values, selected)
	if err != nil {
		printValidation(stderr, tax, err)
		return exitValidationError
	}
	wire, err := encoder.Encode(tax, rec)
	if err != nil {
		fmt.Fprintf(stderr, "encoding failed: %v\n", err)
		return exitEncodingError
	}

	client := predictor.NewClient(predictor.Config{
		BaseURL:  *opts.url,
		Timeout:  *opts.timeout,
		Outcomes: tax.OutcomeKeys(),
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *opts.timeout+5*time.Second)
	defer cancel()

	result, err := client.Predict(ctx, wire)
	if err != nil {
		fmt.Fprintf(stderr, "prediction failed: %v\n", err)
		return exitServiceError
	}

	chart := ranking.Rank(result, ranking.DefaultOptions())
	if err := ranking.RenderText(stdout, chart, *opts.width); err != nil {
		fmt.Fprintf(stderr, "rendering failed: %v\n", err)
		return exitServiceError
	}

	if *opts.record {
		if err := save(ctx, cfg, wire, result); err != nil {
			logger.WithError(err).Warn("Failed to record prediction")
		}
	}
	return 0
}

// printValidation names attribute failures by their flag.
func printValidation(w io.Writer, tax *taxonomy.Taxonomy, err error) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintln(w, "invalid intake:")
		for _, v := range verrs {
			name := v.Field
			if _, ok := tax.Attribute(name); ok {
				name = flagName(name)
			}
			fmt.Fprintf(w, "  %s: %s\n", name, v.Message)
		}
		return
	}
	fmt.Fprintf(w, "invalid intake: %v\n", err)
}

func save(ctx context.Context, cfg *config.LiteConfig, wire encoder.Request, result *predictor.PredictionResult) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}
	store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := history.NewEntry("cli", wire, result)
	if err != nil {
		return err
	}
	return store.Save(ctx, entry)
}
