package power

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeSupply(t *testing.T, root, name, kind, capacity string) {
	t.Helper()
	dir := filepath.Join(root, "class", "power_supply", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "type"), []byte(kind+"\n"), 0o644); err != nil {
		t.Fatalf("write type: %v", err)
	}
	if capacity != "" {
		if err := os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity+"\n"), 0o644); err != nil {
			t.Fatalf("write capacity: %v", err)
		}
	}
}

func TestSysfsSourceReadsBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", "Mains", "")
	writeSupply(t, root, "BAT0", "Battery", "62")

	got := NewSysfsSource(root, nil).Sample(context.Background())
	if got.LevelPercent != 62 {
		t.Fatalf("expected 62, got %d", got.LevelPercent)
	}
}

func TestSysfsSourceFallsBack(t *testing.T) {
	cases := map[string]func(t *testing.T, root string){
		"no supplies": func(t *testing.T, root string) {},
		"mains only": func(t *testing.T, root string) {
			writeSupply(t, root, "AC", "Mains", "")
		},
		"garbage capacity": func(t *testing.T, root string) {
			writeSupply(t, root, "BAT0", "Battery", "full")
		},
		"missing capacity": func(t *testing.T, root string) {
			writeSupply(t, root, "BAT0", "Battery", "")
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			setup(t, root)
			if got := NewSysfsSource(root, nil).Sample(context.Background()); got.LevelPercent != 100 {
				t.Fatalf("expected fallback 100, got %d", got.LevelPercent)
			}
		})
	}
}

func TestSysfsSourceClampsAndSkipsBrokenBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", "Battery", "bogus")
	writeSupply(t, root, "BAT1", "Battery", "140")

	if got := NewSysfsSource(root, nil).Sample(context.Background()); got.LevelPercent != 100 {
		t.Fatalf("expected clamped 100, got %d", got.LevelPercent)
	}
}

func TestFixed(t *testing.T) {
	if got := Fixed(62).Sample(context.Background()); got.LevelPercent != 62 {
		t.Fatalf("expected 62, got %d", got.LevelPercent)
	}
	if got := Fixed(-5).Sample(context.Background()); got.LevelPercent != 0 {
		t.Fatalf("expected clamp to 0, got %d", got.LevelPercent)
	}
}
