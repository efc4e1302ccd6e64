package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// SignKind tags the variant held by a Sign.
type SignKind string

const (
	KindBloodPressure     SignKind = "blood_pressure"
	KindPainScore         SignKind = "pain_score"
	KindLiverFailure      SignKind = "liver_failure"
	KindCentralVenousLine SignKind = "central_venous_line"
)

// IsNumeric reports whether signs of this kind carry an integer payload.
func (k SignKind) IsNumeric() bool {
	return k == KindBloodPressure || k == KindPainScore
}

// Valid reports whether k is one of the known sign kinds.
func (k SignKind) Valid() bool {
	switch k {
	case KindBloodPressure, KindPainScore, KindLiverFailure, KindCentralVenousLine:
		return true
	}
	return false
}

// Sign is one observed patient fact. It is a closed variant: the only way to
// build one is through the constructors below, and the payload cannot be
// changed afterwards.
type Sign struct {
	kind SignKind
	num  int
	flag bool
}

func BloodPressure(mmHg int) Sign { return Sign{kind: KindBloodPressure, num: mmHg} }

func PainScore(score int) Sign { return Sign{kind: KindPainScore, num: score} }

func LiverFailure(present bool) Sign { return Sign{kind: KindLiverFailure, flag: present} }

func CentralVenousLine(present bool) Sign { return Sign{kind: KindCentralVenousLine, flag: present} }

// Kind returns the variant tag.
func (s Sign) Kind() SignKind { return s.kind }

// Int returns the integer payload and whether the sign carries one.
func (s Sign) Int() (int, bool) {
	if !s.kind.IsNumeric() {
		return 0, false
	}
	return s.num, true
}

// Bool returns the boolean payload and whether the sign carries one.
func (s Sign) Bool() (bool, bool) {
	if s.kind != KindLiverFailure && s.kind != KindCentralVenousLine {
		return false, false
	}
	return s.flag, true
}

func (s Sign) String() string {
	if s.kind.IsNumeric() {
		return fmt.Sprintf("%s=%d", s.kind, s.num)
	}
	return fmt.Sprintf("%s=%t", s.kind, s.flag)
}

type signJSON struct {
	Kind  SignKind        `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (s Sign) MarshalJSON() ([]byte, error) {
	var value any = s.flag
	if s.kind.IsNumeric() {
		value = s.num
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(signJSON{Kind: s.kind, Value: raw})
}

func (s *Sign) UnmarshalJSON(data []byte) error {
	var in signJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	sign, err := DecodeSign(in.Kind, in.Value)
	if err != nil {
		return err
	}
	*s = sign
	return nil
}

// DecodeSign builds a sign from its kind and a JSON value: a number for
// blood pressure and pain score, a boolean for the flags. Strings and null
// are rejected.
func DecodeSign(kind SignKind, raw []byte) (Sign, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Sign{}, fmt.Errorf("sign %s: value is required", kind)
	}
	switch kind {
	case KindBloodPressure, KindPainScore:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return Sign{}, fmt.Errorf("sign %s: value must be an integer", kind)
		}
		if kind == KindBloodPressure {
			return BloodPressure(n), nil
		}
		return PainScore(n), nil
	case KindLiverFailure, KindCentralVenousLine:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Sign{}, fmt.Errorf("sign %s: value must be a boolean", kind)
		}
		if kind == KindLiverFailure {
			return LiverFailure(b), nil
		}
		return CentralVenousLine(b), nil
	}
	return Sign{}, fmt.Errorf("unknown sign kind %q", kind)
}

// ParseSign builds a sign from its kind and a textual value, as given on
// the command line.
func ParseSign(kind SignKind, value string) (Sign, error) {
	switch kind {
	case KindBloodPressure, KindPainScore:
		n, err := strconv.Atoi(value)
		if err != nil {
			return Sign{}, fmt.Errorf("sign %s: invalid integer %q", kind, value)
		}
		if kind == KindBloodPressure {
			return BloodPressure(n), nil
		}
		return PainScore(n), nil
	case KindLiverFailure, KindCentralVenousLine:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return Sign{}, fmt.Errorf("sign %s: invalid boolean %q", kind, value)
		}
		if kind == KindLiverFailure {
			return LiverFailure(b), nil
		}
		return CentralVenousLine(b), nil
	}
	return Sign{}, fmt.Errorf("unknown sign kind %q", kind)
}

// Patient identifies the person a sign set or treatment set belongs to.
type Patient string

func NewPatient(id string) Patient { return Patient(id) }

func (p Patient) String() string { return string(p) }

// PatientSigns is the collection of signs evaluated for one patient.
// Several signs of the same kind may coexist.
type PatientSigns struct {
	Patient Patient
	Signs   []Sign
}

func NewPatientSigns(p Patient, signs ...Sign) PatientSigns {
	return PatientSigns{Patient: p, Signs: append([]Sign(nil), signs...)}
}
