package grok

import "testing"

func TestNextReferenceBasic(t *testing.T) {
	ref, found, err := nextReference("%{IP:client}:%{POSINT:port}", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a reference to be found")
	}
	if ref.name != "IP" || ref.field != "client" {
		t.Errorf("got name=%q field=%q, want name=IP field=client", ref.name, ref.field)
	}
}

func TestNextReferenceSkipsCharacterClass(t *testing.T) {
	_, found, err := nextReference(`[%{abc]literal`, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no reference to be recognized inside a character class")
	}
}

func TestParseReferenceWithType(t *testing.T) {
	ref, _, err := parseReferenceAt("%{NUMBER:count:int}", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.name != "NUMBER" || ref.field != "count" || ref.typeTag != "int" {
		t.Errorf("got %+v", ref)
	}
}

func TestParseReferenceIllegalType(t *testing.T) {
	_, _, err := parseReferenceAt("%{NUMBER:count:bool}", 0)
	if err == nil {
		t.Fatal("expected an error for an unsupported type tag")
	}
}

func TestParseReferenceUnclosed(t *testing.T) {
	_, _, err := parseReferenceAt("%{NUMBER:count", 0)
	if err == nil {
		t.Fatal("expected an error for an unclosed reference")
	}
}

func TestParseReferenceNestedIsIllegal(t *testing.T) {
	_, _, err := parseReferenceAt("%{OUTER:%{INNER}}", 0)
	if err == nil {
		t.Fatal("expected an error for a nested reference")
	}
}

func TestParseReferenceBareNameHasNoField(t *testing.T) {
	ref, _, err := parseReferenceAt("%{WORD}", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.field != "" {
		t.Errorf("field = %q, want empty", ref.field)
	}
}

func TestParseReferenceBracketedFieldIsLegal(t *testing.T) {
	ref, _, err := parseReferenceAt("%{WORD:[a][b][c]}", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.field != "[a][b][c]" {
		t.Errorf("field = %q, want [a][b][c]", ref.field)
	}
}
