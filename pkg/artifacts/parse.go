// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/pkg/errors"
)

// ParseMerges parses the merge table.
//
// The canonical format is an ordered list of [new_id, [a, b]] entries, whose order is the merge
// priority. A mapping {"new_id": [a, b]} is also accepted: since a mapping has no order, its
// rules are ordered by ascending new_id. Ids may be given as numbers or as decimal strings.
func ParseMerges(data []byte) ([]bpe.MergeRule, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty merges data")
	}
	switch data[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, errors.Wrap(err, "failed to parse merges list")
		}
		rules := make([]bpe.MergeRule, 0, len(entries))
		for idx, entryData := range entries {
			var entry []json.RawMessage
			if err := json.Unmarshal(entryData, &entry); err != nil || len(entry) != 2 {
				return nil, errors.Errorf("merge entry #%d must be [new_id, [a, b]], got %s", idx, entryData)
			}
			id, err := parseJSONID(entry[0])
			if err != nil {
				return nil, errors.WithMessagef(err, "merge entry #%d", idx)
			}
			pair, err := parseJSONPair(entry[1])
			if err != nil {
				return nil, errors.WithMessagef(err, "merge entry #%d", idx)
			}
			rules = append(rules, bpe.MergeRule{ID: id, Pair: pair})
		}
		return rules, nil

	case '{':
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, errors.Wrap(err, "failed to parse merges mapping")
		}
		rules := make([]bpe.MergeRule, 0, len(keyed))
		for key, pairData := range keyed {
			id, err := parseIDKey(key)
			if err != nil {
				return nil, errors.WithMessage(err, "merges mapping")
			}
			pair, err := parseJSONPair(pairData)
			if err != nil {
				return nil, errors.WithMessagef(err, "merge %q", key)
			}
			rules = append(rules, bpe.MergeRule{ID: id, Pair: pair})
		}
		slices.SortFunc(rules, func(a, b bpe.MergeRule) int { return int(a.ID) - int(b.ID) })
		return rules, nil

	default:
		return nil, errors.Errorf("merges must be a JSON list or object, got data starting with %q", data[0])
	}
}

// ParseVocab parses the character to id mapping, a JSON object with one character per key.
func ParseVocab(data []byte) (map[string]tokens.ID, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse vocabulary")
	}
	char2id := make(map[string]tokens.ID, len(raw))
	for char, idData := range raw {
		id, err := parseJSONID(idData)
		if err != nil {
			return nil, errors.WithMessagef(err, "vocabulary entry %q", char)
		}
		char2id[char] = id
	}
	return char2id, nil
}

// ParseInverseVocab parses the id to character mapping, a JSON object with decimal string keys.
func ParseInverseVocab(data []byte) (map[tokens.ID]string, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse inverse vocabulary")
	}
	id2char := make(map[tokens.ID]string, len(raw))
	for key, char := range raw {
		id, err := parseIDKey(key)
		if err != nil {
			return nil, errors.WithMessage(err, "inverse vocabulary")
		}
		id2char[id] = char
	}
	return id2char, nil
}

// Stats are the model statistics: the n-gram counts, the interpolation weights and the
// end-of-text id.
type Stats struct {
	Counts  *ngram.Counts
	Weights ngram.Weights
	EOT     tokens.ID
}

// statsFile is the JSON layout of the statistics file.
type statsFile struct {
	VocabSize   *int            `json:"vocab_size"`
	Unigrams    json.RawMessage `json:"unigrams"`
	Bigrams     json.RawMessage `json:"bigrams"`
	Trigrams    json.RawMessage `json:"trigrams"`
	TotalTokens *int64          `json:"total_tokens"`
	Lambdas     []float64       `json:"lambdas"`
	EOTID       json.RawMessage `json:"eot_id"`
}

// ParseStats parses the model statistics.
//
// Each of the unigram, bigram and trigram tables is either a JSON object keyed by the ids (a
// decimal for unigrams, a textual tuple like "(3, 7)" for bigrams and trigrams), or a list of
// records [id..., count]. If total_tokens is missing it is computed as the sum of the unigram
// counts.
//
// The interpolation weights are parsed but not validated, see ngram.Weights.Validate.
func ParseStats(data []byte) (*Stats, error) {
	var file statsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse model statistics")
	}
	if file.VocabSize == nil {
		return nil, errors.New("model statistics missing \"vocab_size\"")
	}
	if len(file.EOTID) == 0 {
		return nil, errors.New("model statistics missing \"eot_id\"")
	}
	eot, err := parseJSONID(file.EOTID)
	if err != nil {
		return nil, errors.WithMessage(err, "model statistics \"eot_id\"")
	}
	weights, err := ngram.WeightsFromSlice(file.Lambdas)
	if err != nil {
		return nil, errors.WithMessage(err, "model statistics \"lambdas\"")
	}

	counts := ngram.NewCounts(*file.VocabSize)
	var sumUnigrams int64
	err = parseCounts(file.Unigrams, 1, func(ids []tokens.ID, count int64) {
		counts.Unigrams[ids[0]] += count
		sumUnigrams += count
	})
	if err != nil {
		return nil, errors.WithMessage(err, "model statistics \"unigrams\"")
	}
	err = parseCounts(file.Bigrams, 2, func(ids []tokens.ID, count int64) {
		counts.Bigrams[tokens.Pair{ids[0], ids[1]}] += count
	})
	if err != nil {
		return nil, errors.WithMessage(err, "model statistics \"bigrams\"")
	}
	err = parseCounts(file.Trigrams, 3, func(ids []tokens.ID, count int64) {
		counts.Trigrams[tokens.Triple{ids[0], ids[1], ids[2]}] += count
	})
	if err != nil {
		return nil, errors.WithMessage(err, "model statistics \"trigrams\"")
	}
	if file.TotalTokens != nil {
		counts.TotalTokens = *file.TotalTokens
	} else {
		counts.TotalTokens = sumUnigrams
	}
	if err := counts.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid model statistics")
	}
	return &Stats{Counts: counts, Weights: weights, EOT: eot}, nil
}

// parseCounts parses an n-gram table of the given arity, in either of the keyed or record forms,
// calling add for each entry.
func parseCounts(data json.RawMessage, arity int, add func(ids []tokens.ID, count int64)) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '{':
		var keyed map[string]int64
		if err := json.Unmarshal(data, &keyed); err != nil {
			return errors.Wrap(err, "failed to parse counts")
		}
		for key, count := range keyed {
			var (
				ids []tokens.ID
				err error
			)
			if arity == 1 {
				var id tokens.ID
				id, err = parseIDKey(key)
				ids = []tokens.ID{id}
			} else {
				ids, err = parseTupleKey(key, arity)
			}
			if err != nil {
				return err
			}
			add(ids, count)
		}
		return nil

	case '[':
		var records [][]int64
		if err := json.Unmarshal(data, &records); err != nil {
			return errors.Wrap(err, "failed to parse count records")
		}
		ids := make([]tokens.ID, arity)
		for idx, record := range records {
			if len(record) != arity+1 {
				return errors.Errorf("count record #%d has %d elements, expected %d ids and a count",
					idx, len(record), arity)
			}
			for i, v := range record[:arity] {
				id, err := toID(v)
				if err != nil {
					return errors.WithMessagef(err, "count record #%d", idx)
				}
				ids[i] = id
			}
			add(ids, record[arity])
		}
		return nil

	default:
		return errors.Errorf("counts must be a JSON object or list, got data starting with %q", data[0])
	}
}

// parseJSONID parses a token id given either as a JSON number or as a decimal string.
func parseJSONID(data json.RawMessage) (tokens.ID, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var key string
		if err := json.Unmarshal(data, &key); err != nil {
			return 0, errors.Wrapf(err, "invalid token id %s", data)
		}
		return parseIDKey(key)
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, errors.Wrapf(err, "invalid token id %s", data)
	}
	return toID(v)
}

func parseJSONPair(data json.RawMessage) (tokens.Pair, error) {
	var members []json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil || len(members) != 2 {
		return tokens.Pair{}, errors.Errorf("merge pair must be [a, b], got %s", data)
	}
	var pair tokens.Pair
	for i, member := range members {
		id, err := parseJSONID(member)
		if err != nil {
			return tokens.Pair{}, err
		}
		pair[i] = id
	}
	return pair, nil
}

func toID(v int64) (tokens.ID, error) {
	if v < 0 || v > math.MaxInt32 {
		return 0, errors.Errorf("token id %d out of range", v)
	}
	return tokens.ID(v), nil
}
