package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/hierflat/internal/config"
	"github.com/rpattn/hierflat/internal/export"
	"github.com/rpattn/hierflat/internal/flatten"
	"github.com/rpattn/hierflat/internal/ingestion"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// optionFlags maps flatten option properties to their CLI flag names.
var optionFlags = []struct {
	property string
	flag     string
	usage    string
}{
	{config.PropertyParentField, "parent-field", "field holding the parent key"},
	{config.PropertyChildField, "child-field", "field holding the child key"},
	{config.PropertyParentChildMapping, "mapping", "attribute renames as source=target;source=target"},
	{config.PropertyLevelField, "level-field", "name of the level column (default Level)"},
	{config.PropertyTopField, "top-field", "name of the top flag column (default Top)"},
	{config.PropertyBottomField, "bottom-field", "name of the bottom flag column (default Bottom)"},
	{config.PropertyTrueValue, "true-value", "literal written for true flags (default Y)"},
	{config.PropertyFalseValue, "false-value", "literal written for false flags (default N)"},
	{config.PropertyMaxDepth, "max-depth", "deepest level allowed (default 50)"},
}

// cli holds the state shared by every subcommand of one root command.
type cli struct {
	v      *viper.Viper
	logger *logrus.Logger

	configPath  string
	logLevel    string
	input       string
	output      string
	format      string
	headerRow   int
	columnTypes string
	workers     int
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper(""), logger: logrus.New()}

	rootCmd := &cobra.Command{
		Use:          "hierflat",
		Short:        "Flatten parent-child hierarchies into relational rows",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger.SetOutput(cmd.ErrOrStderr())
			c.logger.SetLevel(config.ParseLogLevel(c.logLevel))
			if c.configPath == "" {
				return nil
			}
			c.v.SetConfigFile(c.configPath)
			if err := c.v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", c.configPath, err)
			}
			c.logger.WithField("file", c.configPath).Debug("loaded config file")
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "yaml file with a flatten section")
	flags.StringVar(&c.logLevel, "log-level", "error", "log level")
	flags.StringVarP(&c.input, "input", "i", "", "input CSV or XLSX file")
	flags.IntVar(&c.headerRow, "header-row", -1, "zero based header row index, -1 detects it")
	flags.StringVar(&c.columnTypes, "column-types", "", "type overrides as column=type;column=type")
	flags.IntVar(&c.workers, "workers", 0, "row emission workers, 0 uses every CPU")
	for _, opt := range optionFlags {
		flags.String(opt.flag, "", opt.usage)
		_ = c.v.BindPFlag(config.FlattenKey(opt.property), flags.Lookup(opt.flag))
	}
	_ = rootCmd.MarkPersistentFlagRequired("input")

	rootCmd.AddCommand(c.flattenCmd(), c.validateCmd())
	return rootCmd
}

func (c *cli) flattenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Flatten the input file and write the result",
		Example: "  hierflat flatten --input bom.csv --output bom-flat.csv --parent-field Parent --child-field Child\n" +
			"  hierflat flatten -i org.xlsx -o - --format csv --parent-field manager --child-field employee",
		RunE: c.runFlatten,
	}
	cmd.Flags().StringVarP(&c.output, "output", "o", "", "output file, - for stdout")
	cmd.Flags().StringVar(&c.format, "format", "", "csv or xlsx, defaults to the output extension")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check options and input without writing any output",
		RunE:  c.runValidate,
	}
}

func (c *cli) runFlatten(cmd *cobra.Command, args []string) error {
	req, closeInput, err := c.fileRequest()
	if err != nil {
		return err
	}
	defer closeInput()

	req.Format = c.format
	if req.Format == "" && c.output != "-" {
		req.Format = export.FormatForFile(c.output)
	}

	service := c.service()
	var summary flatten.Summary
	if c.output == "-" {
		summary, err = service.FlattenFile(cmd.Context(), req, cmd.OutOrStdout())
	} else {
		err = writeAtomically(c.output, func(w io.Writer) error {
			var runErr error
			summary, runErr = service.FlattenFile(cmd.Context(), req, w)
			return runErr
		})
	}
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "flattened %d nodes (%d leaves, max level %d) into %s\n",
		summary.Stats.Nodes, summary.Stats.Leaves, summary.Stats.MaxLevel, c.output)
	return nil
}

func (c *cli) runValidate(cmd *cobra.Command, args []string) error {
	req, closeInput, err := c.fileRequest()
	if err != nil {
		return err
	}
	defer closeInput()

	summary, err := c.service().ValidateFile(cmd.Context(), req)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes, %d leaves, max level %d, %d output columns\n",
		summary.Stats.Nodes, summary.Stats.Leaves, summary.Stats.MaxLevel, len(summary.Schema.Fields))
	return nil
}

func (c *cli) service() *flatten.Service {
	return flatten.NewService(nil, nil, nil,
		flatten.WithLogger(c.logger),
		flatten.WithWorkers(c.workers),
	)
}

func (c *cli) fileRequest() (flatten.FileRequest, func(), error) {
	overrides, err := ingestion.ParseColumnOverrides(c.columnTypes)
	if err != nil {
		return flatten.FileRequest{}, nil, err
	}
	file, err := os.Open(c.input)
	if err != nil {
		return flatten.FileRequest{}, nil, fmt.Errorf("open input: %w", err)
	}

	req := flatten.FileRequest{
		FileName:        filepath.Base(c.input),
		Data:            file,
		ColumnOverrides: overrides,
		Options:         config.LoadFlattenOptions(c.v),
	}
	if c.headerRow >= 0 {
		index := c.headerRow
		req.HeaderRowIndex = &index
	}
	return req, func() { _ = file.Close() }, nil
}

const outputMode os.FileMode = 0o644

// writeAtomically writes into a temporary file next to path and renames it
// into place only when write succeeds.
func writeAtomically(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	// CreateTemp opens the file 0600.
	if err = tmp.Chmod(outputMode); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// reportError prints what cobra's "Error:" line leaves out: the failure
// kind, the stage and the offending options or nodes.
func reportError(w io.Writer, err error) error {
	_, resp := flatten.Classify(err)
	fmt.Fprintf(w, "%s failure", resp.Kind)
	if resp.Stage != "" {
		fmt.Fprintf(w, " at %s", resp.Stage)
	}
	fmt.Fprintln(w)

	var validationErr *config.ValidationError
	if errors.As(err, &validationErr) {
		for _, failure := range validationErr.Failures {
			fmt.Fprintf(w, "  %s: %s. %s\n", failure.Property, failure.Message, failure.Correction)
		}
	}
	if len(resp.NodeIDs) > 0 {
		fmt.Fprintf(w, "  nodes: %s\n", strings.Join(resp.NodeIDs, ", "))
	}
	return err
}
