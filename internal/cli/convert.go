package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fitsync/internal/convert"
	"fitsync/internal/platform"
)

// ConvertOptions holds the convert command's flags.
type ConvertOptions struct {
	*RootOptions
	Output      string
	Batch       bool
	Interactive bool
	Info        bool
}

// NewConvertCommand creates the convert command: the transcoder's direct
// CLI surface, independent of the sync engine.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "convert [INPUT [FORMAT]]",
		Short: "Convert activity files between FIT, TCX and GPX",
		Long: `Convert activity media files.

  fitsync convert ride.fit gpx            convert one file
  fitsync convert -b ./files gpx          convert a directory
  fitsync convert --info ride.fit         describe a file
  fitsync convert -i                      prompt for inputs`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file or directory")
	cmd.Flags().BoolVarP(&opts.Batch, "batch", "b", false, "treat INPUT as a directory")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "prompt for input path and format")
	cmd.Flags().BoolVar(&opts.Info, "info", false, "describe the file instead of converting")

	return cmd
}

func runConvert(opts *ConvertOptions, args []string) error {
	input, target, err := convertArgs(opts, args)
	if err != nil {
		return err
	}

	if opts.Info {
		return showInfo(input)
	}

	if opts.Batch {
		return convertDir(input, target, opts.Output)
	}
	out, err := convertFile(input, target, opts.Output)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", out)
	return nil
}

func convertArgs(opts *ConvertOptions, args []string) (input string, target platform.Format, err error) {
	if opts.Interactive {
		return promptArgs(opts)
	}
	if len(args) == 0 {
		return "", "", NewExitError(ExitUsage, "INPUT is required (or use --interactive)")
	}
	input = args[0]
	if opts.Info {
		return input, "", nil
	}
	if len(args) < 2 {
		return "", "", NewExitError(ExitUsage, "FORMAT is required: fit, tcx or gpx")
	}
	format, ok := platform.ParseFormat(strings.ToLower(args[1]))
	if !ok {
		return "", "", NewExitError(ExitUsage, fmt.Sprintf("unknown format %q: want fit, tcx or gpx", args[1]))
	}
	return input, format, nil
}

func promptArgs(opts *ConvertOptions) (string, platform.Format, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Input file: ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", "", WrapExitError(ExitUsage, "reading input path", err)
	}
	input = strings.TrimSpace(input)
	if opts.Info {
		return input, "", nil
	}

	fmt.Print("Target format (fit/tcx/gpx): ")
	raw, err := reader.ReadString('\n')
	if err != nil {
		return "", "", WrapExitError(ExitUsage, "reading target format", err)
	}
	format, ok := platform.ParseFormat(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return "", "", NewExitError(ExitUsage, fmt.Sprintf("unknown format %q", strings.TrimSpace(raw)))
	}
	return input, format, nil
}

func convertFile(input string, target platform.Format, output string) (string, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return "", WrapExitError(ExitFailure, "reading input", err)
	}
	from, err := detectFormat(input, data)
	if err != nil {
		return "", err
	}

	converted, err := convert.New().Convert(data, from, target)
	if err != nil {
		return "", WrapExitError(ExitFailure, fmt.Sprintf("converting %s", input), err)
	}

	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "." + string(target)
	}
	if err := os.WriteFile(output, converted, 0o644); err != nil {
		return "", WrapExitError(ExitFailure, "writing output", err)
	}
	return output, nil
}

func convertDir(dir string, target platform.Format, outDir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return WrapExitError(ExitFailure, "reading input directory", err)
	}
	if outDir == "" {
		outDir = dir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return WrapExitError(ExitFailure, "creating output directory", err)
	}

	converted, skipped := 0, 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(entry.Name())), ".")
		if _, ok := platform.ParseFormat(ext); !ok {
			continue
		}
		input := filepath.Join(dir, entry.Name())
		output := filepath.Join(outDir,
			strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))+"."+string(target))

		if _, err := convertFile(input, target, output); err != nil {
			fmt.Printf("  skipped %s: %v\n", entry.Name(), err)
			skipped++
			continue
		}
		converted++
	}
	fmt.Printf("Converted %d file(s), skipped %d.\n", converted, skipped)
	return nil
}

func showInfo(input string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return WrapExitError(ExitFailure, "reading input", err)
	}
	format, err := detectFormat(input, data)
	if err != nil {
		return err
	}

	info, err := convert.Info(data, format)
	if err != nil {
		return WrapExitError(ExitFailure, "reading file", err)
	}

	fmt.Printf("File:      %s\n", input)
	fmt.Printf("Format:    %s\n", info.Format)
	fmt.Printf("Sport:     %s\n", info.Sport)
	if !info.StartTime.IsZero() {
		fmt.Printf("Start:     %s\n", info.StartTime.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("Distance:  %.1f km\n", info.Distance/1000)
	fmt.Printf("Duration:  %s\n", (time.Duration(info.Duration) * time.Second).String())
	fmt.Printf("Size:      %s\n", humanize.Bytes(uint64(len(data))))
	fmt.Printf("Samples:   %d\n", info.Points)
	return nil
}

func detectFormat(path string, data []byte) (platform.Format, error) {
	if format, ok := convert.SniffFormat(data); ok {
		return format, nil
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format, ok := platform.ParseFormat(ext); ok {
		return format, nil
	}
	return "", NewExitError(ExitUsage, fmt.Sprintf("cannot determine the format of %s", path))
}
