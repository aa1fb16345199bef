// Package analyze implements one-shot file analysis for debugging the
// detection pipeline.
package analyze

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sodav/monitor/internal/analysis"
	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/fingerprint"
	"github.com/sodav/monitor/internal/myaudio"
	"github.com/sodav/monitor/internal/recognition"
)

// Command creates the file analysis command.
func Command(settings *conf.Settings) *cobra.Command {
	var withProviders bool

	cmd := &cobra.Command{
		Use:   "analyze [input.wav]",
		Short: "Classify and identify a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings, args[0], withProviders)
		},
	}

	cmd.Flags().BoolVar(&withProviders, "providers", false, "Consult external providers when the local library misses")
	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, path string, withProviders bool) error {
	pcm, sampleRate, err := myaudio.DecodeWAVFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("Read %s: %d samples at %d Hz (%.1f s)\n",
		path, len(pcm), sampleRate, float64(len(pcm))/float64(sampleRate))

	feats, err := analysis.Analyze(pcm, sampleRate)
	if err != nil {
		return err
	}

	s := &feats.Scores
	fmt.Printf("Music likelihood: %.1f (bass %.1f, mid %.1f, rhythm %.1f, balance %.1f)\n",
		s.MusicLikelihood, s.Bass, s.Mid, s.Rhythm, s.Balance)
	if !feats.IsMusic() {
		fmt.Println("Classified as non-music, skipping identification")
		return nil
	}
	fmt.Printf("Classified as music, tempo estimate %.0f BPM\n", feats.Tempo)

	fp := fingerprint.Generate(feats)
	fmt.Printf("Fingerprint: %s\n", fp.HexHash())
	if prefix := fingerprint.ChromaPrefix(fp.Chroma); prefix != "" {
		fmt.Printf("Chroma prefix: %s\n", prefix)
	}

	match, err := identify(cmd, settings, pcm, sampleRate, fp, withProviders)
	if err != nil {
		return err
	}
	if match == nil {
		fmt.Println("No match found")
		return nil
	}

	fmt.Printf("Match: %q by %q (confidence %.2f, via %s)\n", match.Title, match.Artist, match.Confidence, match.Method)
	if match.ISRC != "" {
		fmt.Printf("ISRC: %s\n", match.ISRC)
	}
	return nil
}

// identify runs the file through the same local-then-external hierarchy
// the realtime pipeline uses.
func identify(cmd *cobra.Command, settings *conf.Settings, pcm []float64, sampleRate int,
	fp *fingerprint.Fingerprint, withProviders bool) (*recognition.Match, error) {

	store := datastore.New(settings)
	if store == nil {
		return nil, errors.Newf("no database output enabled, enable output.sqlite or output.mysql").
			Component("main").
			Category(errors.CategoryConfig).
			Build()
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	match, err := recognition.NewLocalMatcher(store).Find(fp)
	if err != nil {
		return nil, err
	}
	if match != nil && match.Confidence >= settings.Detection.MinConfidence {
		return match, nil
	}
	if !withProviders {
		return match, nil
	}

	chain := recognition.NewChain(nil, nil,
		recognition.NewAcoustID(settings, nil),
		recognition.NewAudD(settings, nil))
	return chain.Find(cmd.Context(), &recognition.Sample{
		PCM:         pcm,
		SampleRate:  sampleRate,
		Duration:    time.Duration(float64(len(pcm)) / float64(sampleRate) * float64(time.Second)),
		Fingerprint: fp,
	})
}
