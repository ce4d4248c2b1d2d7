package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 10), uint8(y * 10), 100, 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseOp(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		wantErr bool
	}{
		{"invert", "invert", false},
		{"brightness:delta=20", "brightness", false},
		{"crop:x=0, y=0, width=4, height=4", "crop", false},
		{"brightness:delta", "", true},
		{"brightness:delta=lots", "", true},
		{"nonsense", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := parseOp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseOp(%q) error = %v", tt.in, err)
			}
			if err == nil && f.Name() != tt.name {
				t.Errorf("name = %q, want %q", f.Name(), tt.name)
			}
		})
	}
}

func TestConfigCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "quill.yaml")
	if err := os.WriteFile(cfgPath, []byte("jpeg_quality: 42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", cfgPath, "config")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "jpeg_quality: 42") {
		t.Errorf("output does not show the configured quality:\n%s", out)
	}
}

func TestEnvFileOverrides(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	if err := os.WriteFile(env, []byte("QUILL_JPEG_QUALITY=33\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("QUILL_JPEG_QUALITY") })
	out, err := execute(t, "--env-file", env, "config")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "jpeg_quality: 33") {
		t.Errorf("dotenv override missing:\n%s", out)
	}

	if _, err := execute(t, "--env-file", filepath.Join(dir, "missing.env"), "config"); err == nil {
		t.Error("explicit missing env file accepted")
	}
}

func TestEditCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.png")
	writePNG(t, path, 8, 6)
	out := filepath.Join(dir, "out.png")

	res, err := execute(t, "edit", path, "--op", "crop:x=2,y=1,width=4,height=3", "--op", "invert", "--output", out)
	if err != nil {
		t.Fatalf("edit: %v\n%s", err, res)
	}
	if !strings.Contains(res, "saved "+out) {
		t.Errorf("output = %q", res)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Size(); got != image.Pt(4, 3) {
		t.Errorf("output size = %v, want 4x3", got)
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 255-20 || g>>8 != 255-10 || b>>8 != 155 {
		t.Errorf("pixel = %d,%d,%d, want the inverted crop origin", r>>8, g>>8, b>>8)
	}
}

func TestEditRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.png")
	writePNG(t, path, 4, 4)
	if _, err := execute(t, "edit", path, "--op", "wobble"); err == nil {
		t.Error("unknown operation accepted")
	}
	if _, err := execute(t, "edit", filepath.Join(dir, "none.png"), "--op", "invert"); err == nil {
		t.Error("missing file accepted")
	}
}

func TestThumbnailsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.png")
	writePNG(t, path, 300, 200)
	cfgPath := filepath.Join(dir, "quill.yaml")
	cfg := "thumbnail_base_path: " + filepath.Join(dir, "thumbs") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", cfgPath, "thumbnails", path)
	if err != nil {
		t.Fatalf("thumbnails: %v\n%s", err, out)
	}
	for _, flavor := range []string{"normal", "large"} {
		if !strings.Contains(out, ": "+flavor+" ") {
			t.Errorf("no %s thumbnail reported:\n%s", flavor, out)
		}
	}
}

func TestFiltersCommand(t *testing.T) {
	out, err := execute(t, "filters")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "brightness\n") || !strings.Contains(out, "invert") {
		t.Errorf("filters output = %q", out)
	}
}
