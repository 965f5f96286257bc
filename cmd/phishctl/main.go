// Command phishctl runs one prediction offline against the configured models,
// prints the ordered field list of a mode, or lists recently journaled predictions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"phishguard/config"
	"phishguard/db"
	"phishguard/ml"
	"phishguard/predict"
	"phishguard/schema"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("phishctl", flag.ContinueOnError)
	configPath := flags.String("config", "config.yaml", "path to the YAML config file")
	mode := flags.String("mode", string(schema.WebOut), "model to query: webOut or webIn")
	input := flags.String("input", "", "JSON object of features, - for stdin")
	schemaMode := flags.String("schema", "", "print the ordered fields of a mode and exit")
	recent := flags.Int("recent", 0, "print the newest N journaled predictions and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *schemaMode != "" {
		return printSchema(out, *schemaMode)
	}
	if *recent > 0 {
		return printRecent(out, *configPath, *recent)
	}
	if *input == "" {
		return errors.New("-input is required")
	}

	features, err := readFeatures(*input)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := ml.LoadStore(cfg.ModelSpecs())
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := predict.NewService(store)
	if err != nil {
		return err
	}
	result, err := service.Predict(context.Background(), predict.Request{ID: "phishctl", Mode: *mode, Features: features})
	if err != nil {
		return err
	}

	vector, err := schema.Vectorize(result.Mode, features)
	if err != nil {
		return err
	}
	printResult(out, result, vector)
	return nil
}

func printSchema(out io.Writer, name string) error {
	mode, err := schema.ParseMode(name)
	if err != nil {
		return err
	}
	table := newTable(out, "#", "Field")
	for i, field := range schema.FieldsFor(mode) {
		table.Append([]string{strconv.Itoa(i), field})
	}
	table.Render()
	return nil
}

func printResult(out io.Writer, result *predict.Result, vector []float64) {
	table := newTable(out, "#", "Field", "Value")
	for i, field := range schema.FieldsFor(result.Mode) {
		table.Append([]string{strconv.Itoa(i), field, strconv.FormatFloat(vector[i], 'f', 0, 64)})
	}
	table.Render()

	fmt.Fprintf(out, "\nmode: %s\nprediction: %d\nprobabilities: %v\n", result.Mode, result.Prediction, formatProba(result.Probabilities))
}

func printRecent(out io.Writer, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Path == "" {
		return errors.New("prediction journal is disabled: database.path is empty")
	}
	journal, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer journal.Close()

	records, err := journal.Recent(context.Background(), limit)
	if err != nil {
		return err
	}

	table := newTable(out, "Time", "Request", "Mode", "Prediction", "Probabilities", "Set features")
	for _, r := range records {
		vector := schema.FromBitmask(r.Mode, r.Features)
		set := lo.Filter(schema.FieldsFor(r.Mode), func(_ string, i int) bool { return vector[i] == 1 })
		table.Append([]string{
			r.CreatedAt.Local().Format(time.DateTime),
			r.RequestID,
			string(r.Mode),
			strconv.Itoa(r.Prediction),
			strings.Join(formatProba(r.Probabilities), " "),
			strings.Join(set, ","),
		})
	}
	table.Render()
	return nil
}

func formatProba(proba []float64) []string {
	return lo.Map(proba, func(p float64, _ int) string {
		return strconv.FormatFloat(p, 'f', 4, 64)
	})
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func readFeatures(path string) (map[string]interface{}, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}

	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var features map[string]interface{}
	if err := decoder.Decode(&features); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if features == nil {
		return nil, errors.New("input must be a JSON object")
	}
	return features, nil
}
