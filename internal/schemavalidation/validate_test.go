package schemavalidation

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"lessonsync/internal/snapshot"
)

type schemaCase struct {
	name         string
	schemaPath   string
	instancePath string
}

func TestSchemaValidation(t *testing.T) {
	repoRoot := repoRoot(t)
	cases := []schemaCase{
		{
			name:         "lesson",
			schemaPath:   filepath.Join(repoRoot, "schema", "lesson-v1.schema.json"),
			instancePath: filepath.Join(repoRoot, "schema", "fixtures", "lesson-v1.json"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validateInstance(t, tc.schemaPath, tc.instancePath)
		})
	}
}

func TestRejectsLeakedBlockKeys(t *testing.T) {
	v, err := Load(filepath.Join(repoRoot(t), "schema", "lesson-v1.schema.json"))
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}

	doc := map[string]any{
		"title":  "x",
		"blocks": []any{map[string]any{"type": "text", "__uiKey": "block-1"}},
	}
	if err := v.Validate(doc); err == nil {
		t.Fatal("expected a block carrying __uiKey to be rejected")
	}

	if err := v.Validate(map[string]any{"title": "x"}); err == nil {
		t.Fatal("expected missing blocks to be rejected")
	}
}

func TestCompileRejectsBadSchema(t *testing.T) {
	if _, err := Compile("bad.schema.json", []byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error")
	}
}

func validateInstance(t *testing.T, schemaPath, instancePath string) {
	v, err := Load(schemaPath)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}

	instanceData, err := os.ReadFile(instancePath)
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}

	instance, err := snapshot.Decode(instanceData)
	if err != nil {
		t.Fatalf("decode instance: %v", err)
	}

	if err := v.Validate(instance); err != nil {
		t.Fatalf("schema validation failed for %s: %v", filepath.Base(instancePath), err)
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
