// Command insightctl runs the financial keyword extractor outside the server,
// for checking transcripts and inspecting the topic taxonomy.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pactumai/pactum/internal/insight"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "insightctl",
		Short:         "Financial keyword insight tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newExtractCmd())
	root.AddCommand(newTaxonomyCmd())
	return root
}

// report is what extract prints for one transcript.
type report struct {
	Topics     []string    `json:"topics" yaml:"topics"`
	Hits       orderedHits `json:"hits" yaml:"hits"`
	Source     string      `json:"source" yaml:"source"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
	Words      int         `json:"words" yaml:"words"`
	Checksum   string      `json:"checksum" yaml:"checksum"`
}

// orderedHits keeps taxonomy order in both output formats.
type orderedHits insight.Hits

func (h orderedHits) MarshalJSON() ([]byte, error) {
	return insight.Hits(h).MarshalJSON()
}

func (h orderedHits) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, th := range h {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, kw := range th.Keywords {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kw})
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: th.Topic}, seq)
	}
	return n, nil
}

func newExtractCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract financial topics from a transcript file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, err := readTranscript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			res := insight.Extract(transcript)
			r := report{
				Topics:     res.Topics,
				Hits:       orderedHits(res.Hits),
				Source:     res.Source,
				Confidence: res.Confidence,
				Words:      len(strings.Fields(transcript)),
				Checksum:   insight.Checksum(transcript),
			}
			if r.Confidence > 1 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: confidence %.4f is above 1 and would be rejected on save\n", r.Confidence)
			}
			return write(cmd.OutOrStdout(), output, r)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json|yaml")
	return cmd
}

func newTaxonomyCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "List topics and their keywords in match order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			type topic struct {
				ID       string   `json:"id" yaml:"id"`
				Keywords []string `json:"keywords" yaml:"keywords,flow"`
			}
			var topics []topic
			for _, t := range insight.Taxonomy() {
				topics = append(topics, topic{ID: t.ID, Keywords: t.Keywords})
			}
			if output != "table" {
				return write(cmd.OutOrStdout(), output, topics)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range topics {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", t.ID, strings.Join(t.Keywords, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table|json|yaml")
	return cmd
}

func readTranscript(stdin io.Reader, args []string) (string, error) {
	var (
		b   []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("transcript is empty")
	}
	return string(b), nil
}

func write(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
