// Package insight extracts financial topics from meeting transcripts.
//
// Extraction is a fixed keyword match so every result can be traced back to
// the exact keywords that produced it.
package insight

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Source tags every result produced by Extract.
const Source = "keyword_extraction"

// ChecksumLength is the number of hex characters returned by Checksum.
const ChecksumLength = 32

// Topic is one taxonomy entry.
type Topic struct {
	ID       string
	Keywords []string
}

// taxonomy is matched in declaration order, keywords included.
var taxonomy = []Topic{
	{ID: "budget", Keywords: []string{"budget", "spending", "expenses", "cost", "afford"}},
	{ID: "investment", Keywords: []string{"invest", "stock", "portfolio", "fund", "etf", "401k"}},
	{ID: "savings", Keywords: []string{"save", "savings", "emergency fund", "nest egg"}},
	{ID: "debt", Keywords: []string{"debt", "loan", "mortgage", "credit", "repay"}},
	{ID: "retirement", Keywords: []string{"retire", "pension", "social security"}},
	{ID: "goals", Keywords: []string{"goal", "target", "plan", "milestone"}},
}

// Taxonomy returns a copy of the fixed topic list.
func Taxonomy() []Topic {
	out := make([]Topic, len(taxonomy))
	for i, t := range taxonomy {
		out[i] = Topic{ID: t.ID, Keywords: append([]string(nil), t.Keywords...)}
	}
	return out
}

// KeywordsFor returns the keyword list of a topic, or nil if the topic is unknown.
func KeywordsFor(topicID string) []string {
	for _, t := range taxonomy {
		if t.ID == topicID {
			return append([]string(nil), t.Keywords...)
		}
	}
	return nil
}

// TopicHits is the list of keywords matched for one topic.
type TopicHits struct {
	Topic    string
	Keywords []string
}

// Hits maps topics to their matched keywords, kept in taxonomy order.
type Hits []TopicHits

// Get returns the matched keywords for a topic.
func (h Hits) Get(topic string) ([]string, bool) {
	for _, th := range h {
		if th.Topic == topic {
			return th.Keywords, true
		}
	}
	return nil, false
}

// Count is the total number of matched keywords across topics.
func (h Hits) Count() int {
	n := 0
	for _, th := range h {
		n += len(th.Keywords)
	}
	return n
}

// MarshalJSON encodes hits as an object whose keys follow taxonomy order.
func (h Hits) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, th := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(th.Topic)
		if err != nil {
			return nil, err
		}
		kws := th.Keywords
		if kws == nil {
			kws = []string{}
		}
		val, err := json.Marshal(kws)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, restoring taxonomy order for known topics.
// Unknown topics are kept after the known ones in sorted key order.
func (h *Hits) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Hits, 0, len(raw))
	for _, t := range taxonomy {
		if kws, ok := raw[t.ID]; ok {
			out = append(out, TopicHits{Topic: t.ID, Keywords: kws})
			delete(raw, t.ID)
		}
	}
	rest := make([]string, 0, len(raw))
	for k := range raw {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, TopicHits{Topic: k, Keywords: raw[k]})
	}
	*h = out
	return nil
}

// Result is the output of one extraction run.
type Result struct {
	Topics []string `json:"topics"`
	Hits   Hits     `json:"hits"`
	Source string   `json:"source"`
	// Confidence is matched keywords over words. It is not clamped and exceeds 1
	// when a short transcript packs more keywords than words; storage rejects that.
	Confidence float64 `json:"confidence"`
}

// Extract runs the keyword taxonomy over transcript.
func Extract(transcript string) Result {
	text := strings.ToLower(transcript)
	totalWords := len(strings.Fields(text))

	res := Result{
		Topics: []string{},
		Hits:   Hits{},
		Source: Source,
	}
	for _, t := range taxonomy {
		var matched []string
		for _, kw := range t.Keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		res.Topics = append(res.Topics, t.ID)
		res.Hits = append(res.Hits, TopicHits{Topic: t.ID, Keywords: matched})
	}

	if totalWords > 0 {
		res.Confidence = float64(res.Hits.Count()) / float64(totalWords)
	}
	return res
}

// Checksum returns a fixed-length fingerprint of the transcript for attestation payloads.
// It is not an integrity guarantee.
func Checksum(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])[:ChecksumLength]
}
