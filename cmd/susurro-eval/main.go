// Command susurro-eval transcribes reference samples and reports word error
// rate and real-time factor for each.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chaz8081/susurro/internal/config"
	"github.com/chaz8081/susurro/internal/engine"
	"github.com/chaz8081/susurro/internal/engine/whisper"
	"github.com/chaz8081/susurro/internal/transcribe"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in defaults)")
	refsPath := flag.String("refs", "testdata/references.json", "path to references.json")
	verbose := flag.Bool("v", false, "print transcripts")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	if err := run(cfg, *refsPath, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "eval: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, refsPath string, verbose bool) error {
	refs, err := transcribe.LoadReferences(refsPath)
	if err != nil {
		return err
	}

	tr, err := transcribe.New(transcribe.Options{
		Params: cfg.Transcribe.Params(),
		Model:  cfg.Transcribe.ModelName,
	})
	if err != nil {
		return err
	}

	gate := engine.NewGate(func(ctx context.Context) (engine.Engine, error) {
		return whisper.Load(cfg.Transcribe.ModelPath)
	})
	defer gate.Close()
	if err := gate.Initialize(context.Background()); err != nil {
		return err
	}
	svc := transcribe.NewService(gate, tr)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SAMPLE\tAUDIO\tELAPSED\tRTF\tWER\tS/I/D")

	var totalErrs, totalWords int
	for _, ref := range refs {
		res, err := svc.TranscribeFile(context.Background(), ref.File)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", ref.Label, err)
			continue
		}

		score := transcribe.ComputeWER(ref.Transcript, res.Text)
		totalErrs += score.Substitutions + score.Insertions + score.Deletions
		totalWords += score.RefWords

		rtf := 0.0
		if res.AudioDuration > 0 {
			rtf = res.ProcessingTime.Seconds() / res.AudioDuration.Seconds()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.1f%%\t%d/%d/%d\n",
			ref.Label,
			res.AudioDuration.Round(10*time.Millisecond),
			res.ProcessingTime.Round(time.Millisecond),
			rtf,
			score.WER*100,
			score.Substitutions, score.Insertions, score.Deletions)
		if verbose {
			fmt.Fprintf(w, "\tref: %s\n\thyp: %s\n", ref.Transcript, res.Text)
		}
	}

	if totalWords > 0 {
		fmt.Fprintf(w, "TOTAL\t\t\t\t%.1f%%\t\n", float64(totalErrs)/float64(totalWords)*100)
	}
	return w.Flush()
}
