package features_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/features"
)

func testSchema(t *testing.T) *features.Schema {
	t.Helper()
	s, err := features.NewSchema([]string{"amount", "hour", "merchant_risk"})
	require.NoError(t, err)
	return s
}

func TestValidate_OrdersBySchema(t *testing.T) {
	s := testSchema(t)

	vec, err := features.Validate([]byte(`{"hour":3,"amount":250.0,"merchant_risk":0.9}`), s)
	require.NoError(t, err)
	assert.Equal(t, features.Vector{250.0, 3, 0.9}, vec)
}

func TestValidate_KeyOrderIrrelevant(t *testing.T) {
	s := testSchema(t)
	bodies := []string{
		`{"amount":1,"hour":2,"merchant_risk":3}`,
		`{"merchant_risk":3,"hour":2,"amount":1}`,
		`{"hour":2,"merchant_risk":3,"amount":1}`,
	}
	for _, b := range bodies {
		vec, err := features.Validate([]byte(b), s)
		require.NoError(t, err, b)
		assert.Len(t, vec, s.Len())
		assert.Equal(t, features.Vector{1, 2, 3}, vec, b)
	}
}

func TestValidate_ExtraKeysIgnored(t *testing.T) {
	s := testSchema(t)
	vec, err := features.Validate([]byte(`{"amount":1,"hour":2,"merchant_risk":3,"note":"x","nested":{"a":1}}`), s)
	require.NoError(t, err)
	assert.Equal(t, features.Vector{1, 2, 3}, vec)
}

func TestValidate_MissingFeature(t *testing.T) {
	s := testSchema(t)

	_, err := features.Validate([]byte(`{"hour":3,"amount":250.0}`), s)
	var mf *features.MissingFeatureError
	require.True(t, errors.As(err, &mf), "got %v", err)
	assert.Equal(t, "merchant_risk", mf.Name)
	assert.ErrorIs(t, err, features.ErrValidation)
}

func TestValidate_MissingFeatureReportsFirstInSchemaOrder(t *testing.T) {
	s := testSchema(t)

	_, err := features.Validate([]byte(`{"hour":3}`), s)
	var mf *features.MissingFeatureError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, "amount", mf.Name)
}

func TestValidate_InvalidTypes(t *testing.T) {
	s := testSchema(t)
	tests := []struct {
		name string
		body string
	}{
		{"string", `{"amount":"lots","hour":3,"merchant_risk":0.9}`},
		{"null", `{"amount":null,"hour":3,"merchant_risk":0.9}`},
		{"bool", `{"amount":true,"hour":3,"merchant_risk":0.9}`},
		{"object", `{"amount":{"v":1},"hour":3,"merchant_risk":0.9}`},
		{"array", `{"amount":[1],"hour":3,"merchant_risk":0.9}`},
		{"nan string", `{"amount":"NaN","hour":3,"merchant_risk":0.9}`},
		{"inf string", `{"amount":"Infinity","hour":3,"merchant_risk":0.9}`},
		{"hex float string", `{"amount":"0x1p3","hour":3,"merchant_risk":0.9}`},
		{"hex separator string", `{"amount":"0x_1p0","hour":3,"merchant_risk":0.9}`},
		{"digit separator string", `{"amount":"1_000","hour":3,"merchant_risk":0.9}`},
		{"bare exponent string", `{"amount":"1e","hour":3,"merchant_risk":0.9}`},
		{"lone dot string", `{"amount":".","hour":3,"merchant_risk":0.9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := features.Validate([]byte(tt.body), s)
			var it *features.InvalidTypeError
			require.True(t, errors.As(err, &it), "got %v", err)
			assert.Equal(t, "amount", it.Name)
			assert.ErrorIs(t, err, features.ErrValidation)
		})
	}
}

func TestValidate_NumericStringCoerces(t *testing.T) {
	s := testSchema(t)
	vec, err := features.Validate([]byte(`{"amount":" 12.5 ","hour":"3","merchant_risk":1e-1}`), s)
	require.NoError(t, err)
	assert.Equal(t, features.Vector{12.5, 3, 0.1}, vec)

	vec, err = features.Validate([]byte(`{"amount":"-2.5E+2","hour":"+3","merchant_risk":".5"}`), s)
	require.NoError(t, err)
	assert.Equal(t, features.Vector{-250, 3, 0.5}, vec)
}

func TestValidate_MissingPayload(t *testing.T) {
	s := testSchema(t)
	for _, body := range []string{"", "   ", "not json", "null", "[1,2,3]", "42", `"str"`, `{"amount":1}{}`} {
		_, err := features.Validate([]byte(body), s)
		var mp *features.MissingPayloadError
		assert.True(t, errors.As(err, &mp), "body %q: got %v", body, err)
	}
}

func TestValidateMap_Nil(t *testing.T) {
	_, err := features.ValidateMap(nil, testSchema(t))
	var mp *features.MissingPayloadError
	assert.True(t, errors.As(err, &mp))
}

func TestValidate_Deterministic(t *testing.T) {
	s := testSchema(t)
	body := []byte(`{"hour":3,"amount":250.0,"merchant_risk":0.9}`)
	a, err := features.Validate(body, s)
	require.NoError(t, err)
	b, err := features.Validate(body, s)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadSchema(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	t.Run("ok", func(t *testing.T) {
		s, err := features.LoadSchema(write("ok.json", `{"features":["b","a","c"]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, s.Names())
		assert.Equal(t, 3, s.Len())
	})

	failures := map[string]string{
		"malformed": `{"features":`,
		"empty":     `{"features":[]}`,
		"absent":    `{"cols":["a"]}`,
		"blank":     `{"features":["a"," "]}`,
		"duplicate": `{"features":["a","a"]}`,
	}
	for name, content := range failures {
		t.Run(name, func(t *testing.T) {
			p := write(name+".json", content)
			_, err := features.LoadSchema(p)
			var le *features.SchemaLoadError
			require.True(t, errors.As(err, &le), "got %v", err)
			assert.Equal(t, p, le.Path)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := features.LoadSchema(filepath.Join(dir, "nope.json"))
		var le *features.SchemaLoadError
		require.True(t, errors.As(err, &le))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSchema_NamesIsCopy(t *testing.T) {
	s := testSchema(t)
	names := s.Names()
	names[0] = "mutated"
	assert.Equal(t, "amount", s.Names()[0])
	assert.True(t, s.Equal([]string{"amount", "hour", "merchant_risk"}))
	assert.False(t, s.Equal([]string{"hour", "amount", "merchant_risk"}))
}

func TestDecode_PreservesNumbers(t *testing.T) {
	p, err := features.Decode([]byte(`{"amount":250.10}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("250.10"), p["amount"])
}

func TestValidator_ReturnsPayloadAndVector(t *testing.T) {
	v := features.NewValidator(testSchema(t))
	p, vec, err := v.Validate([]byte(`{"hour":3,"amount":250.0,"merchant_risk":0.9,"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, features.Vector{250.0, 3, 0.9}, vec)
	assert.Equal(t, true, p["extra"], "payload keeps every key for the audit trail")

	_, _, err = v.Validate([]byte(`{}`))
	assert.ErrorIs(t, err, features.ErrValidation)
}
