package loader

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ArtifactExt is appended to a script path to name its artifact.
const ArtifactExt = ".jsbc"

// ArtifactPath returns the artifact location for the script at path.
func ArtifactPath(path string) string {
	return path + ArtifactExt
}

// WriteArtifact stores data zstd-compressed at path.
func WriteArtifact(path string, data []byte) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return err
	}
	defer enc.Close()

	if err := os.WriteFile(path, enc.EncodeAll(data, nil), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// ReadArtifact loads and decompresses the artifact at path.
func ReadArtifact(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return data, nil
}
