package outcome

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/example/faceid/internal/verification"
)

// Schema names accepted by AdapterFor.
const (
	SchemaCoded       = "coded"
	SchemaSingleMatch = "single-match"
	SchemaFlatList    = "flat-list"
)

// AdapterFor returns the adapter for schema. An empty name selects the coded form.
func AdapterFor(schema string) (Adapter, error) {
	switch schema {
	case "", SchemaCoded:
		return CodedAdapter{}, nil
	case SchemaSingleMatch:
		return SingleMatchAdapter{}, nil
	case SchemaFlatList:
		return FlatListAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown response schema %q", schema)
	}
}

// identityID accepts ids sent as strings or numbers.
type identityID string

func (id *identityID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = identityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identity id: %w", err)
	}
	*id = identityID(n.String())
	return nil
}

type wireMatch struct {
	ID       identityID     `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func (m wireMatch) toMatch() Match {
	return Match{IdentityID: string(m.ID), Score: m.Score, Metadata: m.Metadata}
}

// CodedAdapter decodes the canonical {code, message, match, anti_spoofing} shape.
type CodedAdapter struct{}

func (CodedAdapter) Schema() string { return SchemaCoded }

func (CodedAdapter) Decode(raw []byte, route verification.Route) (Decoded, error) {
	var body struct {
		Code         *int            `json:"code"`
		Message      string          `json:"message"`
		Match        *wireMatch      `json:"match"`
		Similarity   *float64        `json:"similarity_score"`
		AntiSpoofing *AntiSpoofing   `json:"anti_spoofing"`
		Details      json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Decoded{}, err
	}
	if body.Code == nil {
		return Decoded{}, errors.New("missing code")
	}

	d := Decoded{
		Code:         FromWire(route, *body.Code),
		Message:      body.Message,
		AntiSpoofing: body.AntiSpoofing,
		Similarity:   body.Similarity,
		Details:      nullToEmpty(body.Details),
	}
	if body.Match != nil {
		d.Candidates = []Match{body.Match.toMatch()}
	}
	return d, nil
}

// SingleMatchAdapter decodes the legacy {success, user, isReal, ...} shape.
type SingleMatchAdapter struct{}

func (SingleMatchAdapter) Schema() string { return SchemaSingleMatch }

func (SingleMatchAdapter) Decode(raw []byte, route verification.Route) (Decoded, error) {
	if d, ok, err := legacyArrayError(raw); ok || err != nil {
		return d, err
	}

	var body struct {
		Success        bool                       `json:"success"`
		Message        string                     `json:"message"`
		Error          string                     `json:"error"`
		User           map[string]json.RawMessage `json:"user"`
		IsReal         *bool                      `json:"isReal"`
		AntispoofScore float64                    `json:"antispoofScore"`
		Confidence     float64                    `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Decoded{}, err
	}

	d := Decoded{Message: body.Message}
	if body.IsReal != nil {
		d.AntiSpoofing = &AntiSpoofing{IsReal: *body.IsReal, AntispoofScore: body.AntispoofScore, Confidence: body.Confidence}
	}
	if route == verification.Enroll {
		d.Code = legacyEnrollCode(body.Success)
		if body.Error != "" && d.Message == "" {
			d.Message = body.Error
		}
		return d, nil
	}

	switch {
	case body.Error != "":
		d.Code = FunctionError
		if d.Message == "" {
			d.Message = body.Error
		}
	case body.Success && body.User != nil:
		m, err := userToMatch(body.User)
		if err != nil {
			return Decoded{}, err
		}
		d.Code = Success
		d.Candidates = []Match{m}
	default:
		d.Code = NoMatch
	}
	return d, nil
}

// userToMatch splits a legacy user object into id, score and the remaining metadata.
func userToMatch(user map[string]json.RawMessage) (Match, error) {
	var m Match
	if raw, ok := user["id"]; ok {
		var id identityID
		if err := json.Unmarshal(raw, &id); err != nil {
			return Match{}, err
		}
		m.IdentityID = string(id)
	}
	if raw, ok := user["score"]; ok {
		if err := json.Unmarshal(raw, &m.Score); err != nil {
			return Match{}, fmt.Errorf("user score: %w", err)
		}
	}
	for key, raw := range user {
		if key == "id" || key == "score" {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return Match{}, err
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, len(user))
		}
		m.Metadata[key] = v
	}
	return m, nil
}

// FlatListAdapter decodes the legacy {success, data.matches[]} shape.
type FlatListAdapter struct{}

func (FlatListAdapter) Schema() string { return SchemaFlatList }

func (FlatListAdapter) Decode(raw []byte, route verification.Route) (Decoded, error) {
	if d, ok, err := legacyArrayError(raw); ok || err != nil {
		return d, err
	}

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
		Data    *struct {
			Matches []wireMatch `json:"matches"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Decoded{}, err
	}

	d := Decoded{Message: body.Message}
	if route == verification.Enroll {
		d.Code = legacyEnrollCode(body.Success)
		return d, nil
	}
	if body.Error != "" {
		d.Code = FunctionError
		if d.Message == "" {
			d.Message = body.Error
		}
		return d, nil
	}
	if !body.Success {
		d.Code = NoMatch
		return d, nil
	}
	d.Code = Success
	if body.Data != nil {
		for _, m := range body.Data.Matches {
			d.Candidates = append(d.Candidates, m.toMatch())
		}
	}
	return d, nil
}

func legacyEnrollCode(success bool) Code {
	if success {
		return Success
	}
	return StorageError
}

// legacyArrayError recognizes the old enroll route's [{"error": "..."}] body.
// ok is false when raw is not an array.
func legacyArrayError(raw []byte) (Decoded, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Decoded{}, false, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return Decoded{}, true, err
	}
	if len(items) == 0 {
		return Decoded{}, true, errors.New("empty array")
	}
	rawErr, ok := items[0]["error"]
	if !ok {
		return Decoded{}, true, errors.New("array body without error")
	}
	var msg string
	if err := json.Unmarshal(rawErr, &msg); err != nil {
		msg = strconv.Quote(string(rawErr))
	}
	return Decoded{Code: FunctionError, Message: msg}, true, nil
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
