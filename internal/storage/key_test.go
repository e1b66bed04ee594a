package storage

import (
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"austin", "austin"},
		{"/austin/ih35/", "austin/ih35"},
		{`austin\ih35`, "austin/ih35"},
		{"austin//ih35///2024", "austin/ih35/2024"},
		{"../../etc/passwd", "etc/passwd"},
		{"austin/../ih35", "austin/ih35"},
		{"./austin/./ih35", "austin/ih35"},
		{"aus\r\ntin/ih\n35", "austin/ih35"},
		{"a/.../b", "a/.../b"},
		{"/\\/\\", ""},
		{" ", ""},
		{" / \t/austin ", "austin"},
		{" austin / ih35 ", "austin/ih35"},
		{"austin/ .. /ih35", "austin/ih35"},
		{"IH 35", "IH 35"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPath(tt.in))
		})
	}
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "plan.pdf", CleanFilename("plan.pdf"))
	assert.Equal(t, "IH_35_plans_v2.pdf", CleanFilename("IH 35 plans v2.pdf"))
	assert.Equal(t, "a_b.pdf", CleanFilename("a/b.pdf"))
	assert.Equal(t, ".._etc_passwd", CleanFilename("../etc/passwd"))
	assert.Equal(t, "plan.pdf", CleanFilename("pl\r\nan.pdf"))
	assert.Equal(t, "caf_.pdf", CleanFilename("café.pdf"))
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name     string
		folder   string
		filename string
		want     string
	}{
		{"no folder", "", "plan.pdf", "plan.pdf"},
		{"folder", "austin/ih35", "plan.pdf", "austin/ih35/plan.pdf"},
		{"messy folder", `\austin\\ih35\`, "plan.pdf", "austin/ih35/plan.pdf"},
		{"traversal", "../../secrets", "plan.pdf", "secrets/plan.pdf"},
		{"separator in filename", "austin", "ih35/plan.pdf", "austin/ih35_plan.pdf"},
		{"line breaks", "aus\ntin", "plan\r.pdf", "austin/plan.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ObjectKey(tt.folder, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectKeyRejectsEmptyFilename(t *testing.T) {
	for _, name := range []string{"", "..", ".", "\r\n", "..\n."} {
		_, err := ObjectKey("austin", name)
		assert.ErrorIs(t, err, ErrInvalidKey, "filename %q", name)
	}
}

func TestObjectKeyWhitespaceFolder(t *testing.T) {
	got, err := ObjectKey(" ", "p.pdf")
	require.NoError(t, err)
	assert.Equal(t, "p.pdf", got)
}

func TestObjectKeyRejectsIndexKey(t *testing.T) {
	for _, folder := range []string{"", "/", " ", "./.."} {
		_, err := ObjectKey(folder, IndexKey)
		assert.ErrorIs(t, err, ErrInvalidKey, "folder %q", folder)
	}

	got, err := ObjectKey("austin", IndexKey)
	require.NoError(t, err)
	assert.Equal(t, "austin/index.json", got)
}

func TestValidateUploadKey(t *testing.T) {
	assert.NoError(t, ValidateUploadKey("austin/ih35/plan.pdf"))
	assert.NoError(t, ValidateUploadKey("austin/index.json"))
	assert.ErrorIs(t, ValidateUploadKey(IndexKey), ErrInvalidKey)
	assert.ErrorIs(t, ValidateUploadKey(" /plan.pdf"), ErrInvalidKey)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("austin/ih35/plan.pdf"))
	assert.ErrorIs(t, ValidateKey(""), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("/austin/plan.pdf"), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("austin/../plan.pdf"), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("austin\n/plan.pdf"), ErrInvalidKey)
}

var keySeeds = []struct{ folder, filename string }{
	{"", "plan.pdf"},
	{"austin/ih35", "plan.pdf"},
	{"\r\n/..//a\\b/", "x\ny.pdf"},
	{"../..", "..."},
	{"//\\\\", "a b c"},
	{"a\rb\nc", "\r\r\n\n.pdf"},
}

func FuzzCleanPathIdempotent(f *testing.F) {
	for _, s := range keySeeds {
		f.Add(s.folder)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := CleanPath(in)
		if twice := CleanPath(once); twice != once {
			t.Fatalf("CleanPath not idempotent: %q -> %q -> %q", in, once, twice)
		}
		if strings.ContainsAny(once, "\r\n") {
			t.Fatalf("CleanPath(%q) = %q retains a line break", in, once)
		}
	})
}

func FuzzObjectKey(f *testing.F) {
	for _, s := range keySeeds {
		f.Add(s.folder, s.filename)
	}
	f.Fuzz(func(t *testing.T, folder, filename string) {
		key, err := ObjectKey(folder, filename)
		if err != nil {
			return
		}
		if strings.ContainsAny(key, "\r\n") {
			t.Fatalf("ObjectKey(%q, %q) = %q retains a line break", folder, filename, key)
		}
		if ValidateKey(key) != nil {
			t.Fatalf("ObjectKey(%q, %q) = %q is not a clean key", folder, filename, key)
		}

		// Feeding the key back through must be a fixed point.
		dir, name := path.Split(key)
		again, err := ObjectKey(dir, name)
		if err != nil {
			t.Fatalf("re-sanitising %q failed: %v", key, err)
		}
		if again != key {
			t.Fatalf("ObjectKey not idempotent: %q -> %q", key, again)
		}
	})
}
