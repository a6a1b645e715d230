package calibration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ArtifactVersion identifies the on-disk layout. Bump on any field change.
const ArtifactVersion = 1

// CameraModel is one camera's intrinsic matrix and distortion coefficients.
type CameraModel struct {
	CameraMatrix [3][3]float64 `json:"camera_matrix"`
	DistCoeffs   []float64     `json:"distortion_coefficients"`
}

// Result is the full stereo calibration: per-camera intrinsics, the
// inter-camera transform, rectification geometry, and the quality scores.
type Result struct {
	Left  CameraModel `json:"left"`
	Right CameraModel `json:"right"`

	// Rigid transform mapping left-camera coordinates to right-camera
	// coordinates. Translation is in centimeters (board square units).
	Rotation    [3][3]float64 `json:"rotation"`
	Translation [3]float64    `json:"translation"`

	RectifyLeft     [3][3]float64 `json:"rectification_left"`
	RectifyRight    [3][3]float64 `json:"rectification_right"`
	ProjectionLeft  [3][4]float64 `json:"projection_left"`
	ProjectionRight [3][4]float64 `json:"projection_right"`

	RMSError      float64 `json:"rms_reprojection_error"`
	EpipolarError float64 `json:"mean_epipolar_error"`

	ImageWidth   int     `json:"image_width"`
	ImageHeight  int     `json:"image_height"`
	SquareSizeCm float64 `json:"square_size_cm"`
}

// Artifact is the persisted calibration record loaded by downstream depth
// consumers.
type Artifact struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Result    Result    `json:"calibration"`
}

// WriteArtifact persists an accepted result. The write is atomic (temp file
// plus rename) so a failure never leaves a partial artifact behind.
func WriteArtifact(path string, res *Result) error {
	artifact := Artifact{
		Version:   ArtifactVersion,
		CreatedAt: time.Now().UTC(),
		Result:    *res,
	}
	b, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding calibration artifact")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating artifact directory")
	}
	tmp, err := os.CreateTemp(dir, ".calib-*")
	if err != nil {
		return errors.Wrap(err, "creating artifact temp file")
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing calibration artifact")
	}
	// CreateTemp defaults to 0600; the artifact is read by other consumers.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "setting artifact permissions")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "closing artifact temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "publishing calibration artifact")
	}
	return nil
}

// ReadArtifact loads a previously written artifact.
func ReadArtifact(path string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading calibration artifact")
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, errors.Wrap(err, "decoding calibration artifact")
	}
	if a.Version != ArtifactVersion {
		return nil, errors.Errorf("unsupported artifact version %d, want %d", a.Version, ArtifactVersion)
	}
	return &a, nil
}
