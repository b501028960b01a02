package jsonschema

import (
	"sync"
	"testing"
)

const pingSchema = `{
	"type": "object",
	"required": ["status", "message"],
	"properties": {
		"status": {"type": "string", "enum": ["ok"]},
		"message": {"type": "string"},
		"podName": {"type": ["string", "null"]}
	}
}`

func TestCompile_InvalidSchema(t *testing.T) {
	for _, schema := range []string{"", "{", "not json"} {
		if _, err := Compile(schema); err == nil {
			t.Errorf("Compile(%q) error = nil, want error", schema)
		}
	}
}

func TestValidator_Validate(t *testing.T) {
	v, err := Compile(pingSchema)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"valid", `{"status":"ok","message":"pong","podName":"p-1"}`, true},
		{"null pod", `{"status":"ok","message":"pong","podName":null}`, true},
		{"wrong status", `{"status":"down","message":"pong"}`, false},
		{"missing message", `{"status":"ok"}`, false},
		{"not json", `pong`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.body))
			if (err == nil) != tt.valid {
				t.Errorf("Validate(%s) error = %v, want valid=%v", tt.body, err, tt.valid)
			}
			if err != nil {
				if _, ok := err.(ValidationErrors); !ok {
					t.Errorf("Validate() error type = %T, want ValidationErrors", err)
				}
			}
		})
	}
}

func TestValidator_ConcurrentUse(t *testing.T) {
	v, err := Compile(pingSchema)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := v.Validate([]byte(`{"status":"ok","message":"pong"}`)); err != nil {
					t.Errorf("Validate() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
