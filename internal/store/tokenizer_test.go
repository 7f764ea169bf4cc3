package store

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"plain words", "Deploy the new API", []string{"deploy", "new", "api"}},
		{"stopwords dropped", "what did they say about it", []string{"did", "say", "about"}},
		{"punctuation split", "release-v2: ship it!", []string{"release", "v2", "ship"}},
		{"hashtags and mentions keep bare word", "#launch ping @maria", []string{"launch", "ping", "maria"}},
		{"single chars dropped", "a b c go", []string{"go"}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestIsStopword(t *testing.T) {
	if !IsStopword("the") {
		t.Fatal("IsStopword(\"the\") = false, want true")
	}
	if IsStopword("deploy") {
		t.Fatal("IsStopword(\"deploy\") = true, want false")
	}
}
