package outcome

import (
	"errors"
	"testing"

	"github.com/example/faceid/internal/verification"
)

func mustNormalizer(t *testing.T, schema string, threshold float64) *Normalizer {
	t.Helper()
	n, err := New(schema, threshold)
	if err != nil {
		t.Fatalf("New(%q): %v", schema, err)
	}
	return n
}

func TestThresholdBoundary(t *testing.T) {
	n := mustNormalizer(t, SchemaCoded, 0.70)

	below, err := n.Normalize([]byte(`{"code":0,"message":"ok","match":{"id":"u1","score":0.69}}`), verification.Authenticate)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if below.Code != BelowThreshold || below.Match != nil {
		t.Fatalf("expected BELOW_THRESHOLD without match, got %+v", below)
	}

	at, err := n.Normalize([]byte(`{"code":0,"message":"ok","match":{"id":"u1","score":0.70,"metadata":{"firstName":"Jane"}}}`), verification.Authenticate)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if at.Code != Success || at.Match == nil || at.Match.IdentityID != "u1" || at.Match.Score != 0.70 {
		t.Fatalf("expected SUCCESS with candidate, got %+v", at)
	}
	if at.Match.Metadata["firstName"] != "Jane" {
		t.Fatalf("metadata not carried: %+v", at.Match.Metadata)
	}
}

func TestThresholdIsConfigurable(t *testing.T) {
	n := mustNormalizer(t, SchemaCoded, 0.9)
	out, _ := n.Normalize([]byte(`{"code":0,"match":{"id":"u1","score":0.85}}`), verification.Authenticate)
	if out.Code != BelowThreshold {
		t.Fatalf("expected BELOW_THRESHOLD at 0.9, got %s", out.Code)
	}
	if got := mustNormalizer(t, SchemaCoded, 0).Threshold(); got != DefaultThreshold {
		t.Fatalf("expected default threshold, got %v", got)
	}
}

// Every response, across schemas and routes, must keep SUCCESS and a non-nil
// match in step for authentication, and never carry a match otherwise.
func TestMatchCodeInvariant(t *testing.T) {
	bodies := map[string][]string{
		SchemaCoded: {
			`{"code":0,"message":"ok"}`,
			`{"code":0,"match":{"id":1,"score":0.95}}`,
			`{"code":0,"match":{"id":1,"score":0.1}}`,
			`{"code":4,"message":"spoof detected","match":{"id":1,"score":0.99}}`,
			`{"code":5,"match":null}`,
			`{"code":42}`,
			`{"code":2,"anti_spoofing":{"is_real":false,"antispoof_score":0.2,"confidence":0.9}}`,
		},
		SchemaSingleMatch: {
			`{"success":true,"user":{"id":"7","score":0.9,"firstName":"Jane"},"isReal":true}`,
			`{"success":true,"user":{"id":"7","score":0.5}}`,
			`{"success":true}`,
			`{"success":false,"message":"no match"}`,
			`{"success":false,"error":"model crashed"}`,
		},
		SchemaFlatList: {
			`{"success":true,"data":{"matches":[{"id":"a","score":0.4},{"id":"b","score":0.8}]}}`,
			`{"success":true,"data":{"matches":[]}}`,
			`{"success":false}`,
		},
	}
	for schema, list := range bodies {
		n := mustNormalizer(t, schema, 0.70)
		for _, body := range list {
			for _, route := range []verification.Route{verification.Enroll, verification.Authenticate} {
				out, err := n.Normalize([]byte(body), route)
				if err != nil {
					t.Fatalf("%s %s %s: %v", schema, route, body, err)
				}
				if out.Match != nil && out.Code != Success {
					t.Fatalf("%s %s %s: match present with code %s", schema, route, body, out.Code)
				}
				if route == verification.Authenticate && out.Code == Success && out.Match == nil {
					t.Fatalf("%s %s %s: SUCCESS without match", schema, route, body)
				}
				if route == verification.Enroll && out.Match != nil {
					t.Fatalf("%s %s %s: enrollment carries a match", schema, route, body)
				}
				if out.Message == "" {
					t.Fatalf("%s %s %s: empty message", schema, route, body)
				}
			}
		}
	}
}

func TestCodedRouteSpecificCodes(t *testing.T) {
	n := mustNormalizer(t, SchemaCoded, 0.70)
	cases := []struct {
		body  string
		route verification.Route
		want  Code
	}{
		{`{"code":5}`, verification.Enroll, StorageError},
		{`{"code":6}`, verification.Enroll, UnexpectedError},
		{`{"code":5}`, verification.Authenticate, NoMatch},
		{`{"code":6}`, verification.Authenticate, BelowThreshold},
		{`{"code":7}`, verification.Authenticate, UnexpectedError},
		{`{"code":9}`, verification.Enroll, UnexpectedError},
		{`{"code":3}`, verification.Authenticate, MultipleFacesDetected},
	}
	for _, tc := range cases {
		out, err := n.Normalize([]byte(tc.body), tc.route)
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if out.Code != tc.want {
			t.Fatalf("%s on %s: got %s, want %s", tc.body, tc.route, out.Code, tc.want)
		}
	}
}

func TestCodedSuccessWithoutMatchIsNoMatch(t *testing.T) {
	n := mustNormalizer(t, SchemaCoded, 0.70)
	out, _ := n.Normalize([]byte(`{"code":0,"message":"ok"}`), verification.Authenticate)
	if out.Code != NoMatch || out.Match != nil {
		t.Fatalf("expected NO_MATCH, got %+v", out)
	}
}

func TestAntiSpoofingPassesThroughWithoutChangingCode(t *testing.T) {
	n := mustNormalizer(t, SchemaCoded, 0.70)
	body := `{"code":0,"message":"ok","anti_spoofing":{"is_real":false,"antispoof_score":0.12,"confidence":0.4}}`
	out, err := n.Normalize([]byte(body), verification.Enroll)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if out.Code != Success {
		t.Fatalf("anti-spoofing must not flip code, got %s", out.Code)
	}
	want := AntiSpoofing{IsReal: false, AntispoofScore: 0.12, Confidence: 0.4}
	if out.AntiSpoofing == nil || *out.AntiSpoofing != want {
		t.Fatalf("anti-spoofing changed: %+v", out.AntiSpoofing)
	}
}

func TestSpoofingDetectedComesFromBackend(t *testing.T) {
	n := mustNormalizer(t, SchemaCoded, 0.70)
	out, _ := n.Normalize([]byte(`{"code":4,"message":"spoof detected"}`), verification.Authenticate)
	if out.Code != SpoofingDetected || out.Match != nil || out.Message != "spoof detected" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestFlatListPicksBestCandidate(t *testing.T) {
	n := mustNormalizer(t, SchemaFlatList, 0.70)
	out, err := n.Normalize([]byte(`{"success":true,"data":{"matches":[{"id":"a","score":0.72},{"id":"b","score":0.91},{"id":"c","score":0.3}]}}`), verification.Authenticate)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if out.Match == nil || out.Match.IdentityID != "b" {
		t.Fatalf("expected best candidate b, got %+v", out.Match)
	}
}

func TestSingleMatchSplitsUserMetadata(t *testing.T) {
	n := mustNormalizer(t, SchemaSingleMatch, 0.70)
	out, err := n.Normalize([]byte(`{"success":true,"message":"found","user":{"id":12,"score":0.88,"firstName":"Jane","lastName":"Doe"},"isReal":true,"antispoofScore":0.97,"confidence":0.93}`), verification.Authenticate)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if out.Code != Success || out.Match.IdentityID != "12" || out.Match.Metadata["lastName"] != "Doe" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if _, ok := out.Match.Metadata["score"]; ok {
		t.Fatal("score leaked into metadata")
	}
	if out.AntiSpoofing == nil || !out.AntiSpoofing.IsReal || out.AntiSpoofing.AntispoofScore != 0.97 {
		t.Fatalf("anti-spoofing not mapped: %+v", out.AntiSpoofing)
	}
}

func TestLegacyEnrollment(t *testing.T) {
	n := mustNormalizer(t, SchemaSingleMatch, 0.70)

	ok, _ := n.Normalize([]byte(`{"success":true,"message":"stored"}`), verification.Enroll)
	if ok.Code != Success {
		t.Fatalf("expected SUCCESS, got %s", ok.Code)
	}
	failed, _ := n.Normalize([]byte(`{"success":false}`), verification.Enroll)
	if failed.Code != StorageError {
		t.Fatalf("expected STORAGE_ERROR, got %s", failed.Code)
	}
	arr, err := n.Normalize([]byte(`[{"error":"face encoder unavailable"}]`), verification.Enroll)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if arr.Code != FunctionError || arr.Message != "face encoder unavailable" {
		t.Fatalf("unexpected outcome %+v", arr)
	}
}

func TestMalformedBodies(t *testing.T) {
	cases := map[string]string{
		SchemaCoded:       `{"message":"no code"}`,
		SchemaSingleMatch: `[1,2]`,
		SchemaFlatList:    `"just a string"`,
	}
	for schema, body := range cases {
		n := mustNormalizer(t, schema, 0.70)
		if _, err := n.Normalize([]byte(body), verification.Authenticate); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", schema, err)
		}
	}
}

func TestUnknownSchema(t *testing.T) {
	if _, err := New("v0", 0.7); err == nil {
		t.Fatal("expected error for unknown schema")
	}
}

func TestWireRoundTrip(t *testing.T) {
	if NoMatch.Wire(verification.Authenticate) != 5 || StorageError.Wire(verification.Enroll) != 5 {
		t.Fatal("unexpected wire values")
	}
	if NoMatch.Wire(verification.Enroll) != -1 {
		t.Fatal("NO_MATCH is not an enrollment code")
	}
}
