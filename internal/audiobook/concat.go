// Package audiobook assembles finished books into single deliverable audio
// files: per-chapter speech synthesis, segment concatenation, and upload.
package audiobook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Concatenate joins ordered compressed-audio segments into one buffer,
// preserving order. It prefers ffmpeg's concat demuxer with stream copy; when
// ffmpeg is missing or fails it falls back to byte-level joining with leading
// ID3v2 tags stripped from every segment after the first. The fallback is
// best-effort: it is not frame-accurate and may leave minor artifacts at
// segment boundaries.
func Concatenate(ctx context.Context, segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no audio segments to concatenate")
	}
	if len(segments) == 1 {
		return segments[0], nil
	}

	if FFmpegAvailable() {
		out, err := concatWithFFmpeg(ctx, segments)
		if err == nil {
			return out, nil
		}
	}
	return concatBytes(segments), nil
}

// FFmpegAvailable reports whether the ffmpeg binary is on PATH. Without it
// concatenation degrades to the byte-level fallback and duration probing is
// skipped.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// concatWithFFmpeg writes each segment to a scratch file, builds an ordered
// concat manifest, and runs ffmpeg with stream copy so nothing is
// re-encoded. Scratch files are removed on every exit path.
func concatWithFFmpeg(ctx context.Context, segments [][]byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "lectern-concat-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var lines []string
	for i, seg := range segments {
		path := filepath.Join(dir, fmt.Sprintf("segment_%04d.mp3", i))
		if err := os.WriteFile(path, seg, 0o644); err != nil {
			return nil, fmt.Errorf("write segment %d: %w", i, err)
		}
		// The concat demuxer requires single quotes in paths escaped.
		escaped := strings.ReplaceAll(path, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escaped))
	}

	listPath := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}

	outPath := filepath.Join(dir, "output.mp3")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read concatenated output: %w", err)
	}
	return out, nil
}

// concatBytes appends raw segments, stripping the leading ID3v2 tag from
// every segment after the first so a later file's metadata block is not
// embedded mid-stream as audible garbage.
func concatBytes(segments [][]byte) []byte {
	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	out := make([]byte, 0, total)

	for i, seg := range segments {
		if i > 0 {
			seg = seg[id3v2TagSize(seg):]
		}
		out = append(out, seg...)
	}
	return out
}

// id3v2TagSize returns the total byte length of a leading ID3v2 tag, or 0
// when the buffer does not start with one. The tag header is the "ID3"
// magic, two version bytes, one flag byte, then a four-byte syncsafe
// (7 bits per byte, big-endian) size of the tag body.
func id3v2TagSize(data []byte) int {
	if len(data) < 10 || data[0] != 'I' || data[1] != 'D' || data[2] != '3' {
		return 0
	}
	size := int(data[6]&0x7f)<<21 |
		int(data[7]&0x7f)<<14 |
		int(data[8]&0x7f)<<7 |
		int(data[9]&0x7f)
	total := 10 + size
	if total > len(data) {
		return 0
	}
	return total
}

// Duration reads an audio file's length in seconds via ffprobe. Returns 0
// without error when ffprobe is unavailable.
func Duration(ctx context.Context, data []byte) (int, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, nil
	}

	tmp, err := os.CreateTemp("", "lectern-probe-*.mp3")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, err
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		tmp.Name(),
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return int(seconds), nil
}
