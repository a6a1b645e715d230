package calibration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testResult() *Result {
	return &Result{
		Left: CameraModel{
			CameraMatrix: [3][3]float64{{857.1, 0, 643.2}, {0, 856.8, 387.5}, {0, 0, 1}},
			DistCoeffs:   []float64{-0.28, 0.07, 1e-4, -2e-4, 0.01},
		},
		Right: CameraModel{
			CameraMatrix: [3][3]float64{{855.9, 0, 641.7}, {0, 855.4, 399.1}, {0, 0, 1}},
			DistCoeffs:   []float64{-0.27, 0.06, 2e-4, -1e-4, 0.008},
		},
		Rotation:      [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Translation:   [3]float64{-9.02, 0.04, -0.11},
		RMSError:      0.42,
		EpipolarError: 0.31,
		ImageWidth:    1280,
		ImageHeight:   800,
		SquareSizeCm:  2.5,
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "calib.json")
	want := testResult()

	if err := WriteArtifact(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != ArtifactVersion {
		t.Errorf("version = %d, want %d", got.Version, ArtifactVersion)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
	if !reflect.DeepEqual(&got.Result, want) {
		t.Errorf("result round trip diverged:\ngot  %+v\nwant %+v", got.Result, *want)
	}
}

func TestWriteArtifactLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calib.json")
	if err := WriteArtifact(path, testResult()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "calib.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only calib.json", names)
	}
}

func TestWriteArtifactIsWorldReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.json")
	if err := WriteArtifact(path, testResult()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("artifact mode = %o, want 644", perm)
	}
}

func TestWriteArtifactOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.json")
	first := testResult()
	if err := WriteArtifact(path, first); err != nil {
		t.Fatal(err)
	}

	second := testResult()
	second.RMSError = 0.9
	if err := WriteArtifact(path, second); err != nil {
		t.Fatal(err)
	}

	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Result.RMSError != 0.9 {
		t.Errorf("rms = %v, want the rewritten value 0.9", got.Result.RMSError)
	}
}

func TestReadArtifactRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.json")
	a := Artifact{Version: ArtifactVersion + 1, Result: *testResult()}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadArtifact(path); err == nil {
		t.Fatal("unknown version must be rejected")
	}
}

func TestReadArtifactMissingFile(t *testing.T) {
	if _, err := ReadArtifact(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing file must be an error")
	}
}
