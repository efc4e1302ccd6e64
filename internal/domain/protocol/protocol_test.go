package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestProtocol_AppendKeepsOriginal(t *testing.T) {
	p := PainProtocol()
	extended := p.Append(NewStep(NewTreatment(NoPain, "ketamine")))

	if p.Len() != 2 {
		t.Errorf("expected original protocol to keep 2 steps, got %d", p.Len())
	}
	if extended.Len() != 3 {
		t.Errorf("expected extended protocol to have 3 steps, got %d", extended.Len())
	}
	if got := extended.Steps()[2].Treatment.Order; got != "ketamine" {
		t.Errorf("expected appended step last, got %s", got)
	}
}

func TestProtocol_ValidateBuiltins(t *testing.T) {
	for _, p := range []Protocol{PainProtocol(), BloodPressureProtocol()} {
		if err := p.Validate(); err != nil {
			t.Errorf("%s: unexpected error: %v", p.Name(), err)
		}
	}
}

func TestProtocol_ValidateInconsistentTarget(t *testing.T) {
	p := NewProtocol("bad",
		NewStep(NewTreatment(NoPain, Morphine)),
		NewStep(NewTreatment(BloodPressureAbove(60), Morphine)),
	)
	if err := p.Validate(); !errors.Is(err, ErrInconsistentTreatment) {
		t.Errorf("expected ErrInconsistentTreatment, got %v", err)
	}
}

func TestProtocol_ValidateSameOrderSameTarget(t *testing.T) {
	p := NewProtocol("repeat",
		NewStep(NewTreatment(NoPain, Morphine), Is(NoLiverFailure)),
		NewStep(NewTreatment(NoPain, Morphine)),
	)
	if err := p.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(p.Orders()) != 1 {
		t.Errorf("expected 1 distinct order, got %v", p.Orders())
	}
}

func TestProtocol_ValidateEmptyOrder(t *testing.T) {
	p := NewProtocol("blank", NewStep(NewTreatment(NoPain, "")))
	if err := p.Validate(); !errors.Is(err, ErrEmptyOrder) {
		t.Errorf("expected ErrEmptyOrder, got %v", err)
	}
}

func TestCatalog_RegisterAndGet(t *testing.T) {
	c := DefaultCatalog()
	if c.Len() != 2 {
		t.Fatalf("expected 2 builtin protocols, got %d", c.Len())
	}
	names := c.Names()
	if names[0] != "blood-pressure" || names[1] != "pain" {
		t.Errorf("names = %v", names)
	}

	custom := NewProtocol("sedation", NewStep(NewTreatment(NoPain, "propofol")))
	if err := c.Register(custom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Get("sedation"); !ok {
		t.Error("expected sedation protocol to be registered")
	}
}

func TestCatalog_RegisterRejectsInvalid(t *testing.T) {
	c := NewCatalog()
	if err := c.Register(NewProtocol("")); err == nil {
		t.Error("expected error for unnamed protocol")
	}
	bad := NewProtocol("bad", NewStep(NewTreatment(NoPain, "")))
	if err := c.Register(bad); err == nil {
		t.Error("expected error for empty order")
	}
}

func TestSign_JSONRoundTrip(t *testing.T) {
	in := []Sign{BloodPressure(40), LiverFailure(true)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[{"kind":"blood_pressure","value":40},{"kind":"liver_failure","value":true}]` {
		t.Errorf("unexpected json %s", data)
	}

	var out []Sign
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestSign_UnmarshalRejectsUnknownKind(t *testing.T) {
	var s Sign
	if err := json.Unmarshal([]byte(`{"kind":"heart_rate","value":80}`), &s); err == nil {
		t.Error("expected error for unknown kind")
	}
	if err := json.Unmarshal([]byte(`{"kind":"pain_score","value":true}`), &s); err == nil {
		t.Error("expected error for boolean pain score")
	}
}

func TestSign_Payloads(t *testing.T) {
	if _, ok := LiverFailure(true).Int(); ok {
		t.Error("expected boolean sign to have no integer payload")
	}
	if n, ok := PainScore(7).Int(); !ok || n != 7 {
		t.Errorf("Int() = %d, %t", n, ok)
	}
	if b, ok := CentralVenousLine(true).Bool(); !ok || !b {
		t.Errorf("Bool() = %t, %t", b, ok)
	}
	if got := BloodPressure(80).String(); got != "blood_pressure=80" {
		t.Errorf("String() = %q", got)
	}
}

func TestDecodeSign(t *testing.T) {
	cases := []struct {
		kind    SignKind
		raw     string
		want    Sign
		wantErr bool
	}{
		{KindBloodPressure, "40", BloodPressure(40), false},
		{KindPainScore, " 3 ", PainScore(3), false},
		{KindCentralVenousLine, "true", CentralVenousLine(true), false},
		{KindLiverFailure, "false", LiverFailure(false), false},
		{KindBloodPressure, `"40"`, Sign{}, true},
		{KindPainScore, `3"`, Sign{}, true},
		{KindPainScore, "3.5", Sign{}, true},
		{KindPainScore, "null", Sign{}, true},
		{KindLiverFailure, `"true"`, Sign{}, true},
		{KindLiverFailure, "1", Sign{}, true},
		{"heart_rate", "80", Sign{}, true},
	}
	for _, tc := range cases {
		got, err := DecodeSign(tc.kind, []byte(tc.raw))
		if (err != nil) != tc.wantErr {
			t.Errorf("DecodeSign(%s, %s) error = %v, wantErr %t", tc.kind, tc.raw, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("DecodeSign(%s, %s) = %v, want %v", tc.kind, tc.raw, got, tc.want)
		}
	}
}
