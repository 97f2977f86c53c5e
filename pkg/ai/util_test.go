package ai

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type testCharacter struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions,omitempty"`
}

type testDiscovery struct {
	Characters []testCharacter `json:"characters"`
}

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  testCharacter
	}{
		{
			name:  "valid json object",
			input: `{"name":"Juliet"}`,
			want:  testCharacter{Name: "Juliet"},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{name: 'Juliet', mentions: 4}`,
			want:  testCharacter{Name: "Juliet", Mentions: 4},
		},
		{
			name:  "trailing comma",
			input: `{"name":"Juliet",}`,
			want:  testCharacter{Name: "Juliet"},
		},
		{
			name:  "missing endbracket",
			input: `{"name":"Juliet`,
			want:  testCharacter{Name: "Juliet"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{name: 'Juliet'}"`,
			want:  testCharacter{Name: "Juliet"},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"name\": \"Juliet\"\n}\n",
			want:  testCharacter{Name: "Juliet"},
		},
		{
			name:  "markdown code fence",
			input: "```json\n{\"name\": \"Juliet\", \"mentions\": 2}\n```",
			want:  testCharacter{Name: "Juliet", Mentions: 2},
		},
		{
			name:  "bare code fence",
			input: "```\n{\"name\": \"Juliet\"}\n```",
			want:  testCharacter{Name: "Juliet"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got testCharacter
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_NestedList(t *testing.T) {
	input := `{characters: [{name:'Romeo', mentions: 12},{name:'Tybalt',}]}`
	var got testDiscovery
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	want := testDiscovery{Characters: []testCharacter{{Name: "Romeo", Mentions: 12}, {Name: "Tybalt"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, want)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got testCharacter
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestUnmarshalFlexible_Empty(t *testing.T) {
	var got testCharacter
	for _, input := range []string{"", "   ", "```json\n```"} {
		if err := UnmarshalFlexible(input, &got); !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("UnmarshalFlexible(%q) error = %v, want ErrEmptyResponse", input, err)
		}
	}
}

func TestGenerateSchema(t *testing.T) {
	for _, value := range []any{&testDiscovery{}, testDiscovery{}} {
		raw, err := json.Marshal(GenerateSchema(value))
		if err != nil {
			t.Fatalf("Marshal(GenerateSchema(%T)) error = %v", value, err)
		}
		schema := string(raw)
		for _, want := range []string{`"characters"`, `"mentions"`, `"additionalProperties":false`} {
			if !strings.Contains(schema, want) {
				t.Errorf("GenerateSchema(%T) = %s, missing %s", value, schema, want)
			}
		}
	}
}

func TestApplyOptions(t *testing.T) {
	got := ApplyOptions(
		GenerateOptions{Model: "default", Temperature: 0.1},
		WithModel("extract"),
		WithSystemPrompts("a", "b"),
		WithTemperature(0.5),
		WithThinking("low"),
	)
	want := GenerateOptions{Model: "extract", SystemPrompts: []string{"a", "b"}, Temperature: 0.5, Thinking: "low"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ApplyOptions() = %#v, want %#v", got, want)
	}
}
