package util

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fomo/images"
	"github.com/nvr-ai/go-fomo/models/fomo"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Name is the file name without its extension; labels are matched on it.
	Name string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number parsed from a "frame-N" name, or -1.
	Frame int
}

// Image returns the file as an encoded image.
func (f ImageFile) Image() *images.Image {
	return &images.Image{Format: images.FormatFromPath(f.Path), Data: f.Data}
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Files named "frame-N" are ordered by N and come first; the rest follow in
// name order.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []ImageFile
	for _, file := range files {
		if file.IsDir() || images.FormatFromPath(file.Name()) == "" {
			continue
		}

		imgPath := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(imgPath)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		frame := -1
		if n, err := strconv.Atoi(strings.TrimPrefix(name, "frame-")); err == nil && strings.HasPrefix(name, "frame-") {
			frame = n
		}
		out = append(out, ImageFile{
			Path:  imgPath,
			Name:  name,
			Data:  data,
			Frame: frame,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Frame < 0) != (b.Frame < 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Name < b.Name
	})

	return out, nil
}

// LoadLabels reads one label file per image from dir.
//
// Each ".txt" file holds one object per line as "class x y [w h]", with x and
// y the fractional object centre. classOffset is added to every class, so 1
// maps zero-based dataset classes onto the head's one-based object classes.
//
// Arguments:
//   - dir: Directory of label files.
//   - classOffset: Value added to each class index.
//
// Returns:
//   - map[string][]fomo.Annotation: Annotations keyed by file name without extension, image index 0.
//   - error: Error if a file cannot be read or parsed.
func LoadLabels(dir string, classOffset int) (map[string][]fomo.Annotation, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	labels := make(map[string][]fomo.Annotation)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".txt" {
			continue
		}
		path := filepath.Join(dir, file.Name())
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		annotations, err := ParseLabels(f, classOffset)
		f.Close()
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		labels[strings.TrimSuffix(file.Name(), ".txt")] = annotations
	}
	return labels, nil
}

// ParseLabels parses "class x y [w h]" lines. Blank lines and lines starting
// with '#' are skipped.
func ParseLabels(r io.Reader, classOffset int) ([]fomo.Annotation, error) {
	var out []fomo.Annotation
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, errors.Wrapf(fomo.ErrInvalidAnnotation, "line %d: want class x y, got %q", line, text)
		}
		class, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(fomo.ErrInvalidAnnotation, "line %d: class %q", line, fields[0])
		}
		x, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return nil, errors.Wrapf(fomo.ErrInvalidAnnotation, "line %d: x %q", line, fields[1])
		}
		y, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return nil, errors.Wrapf(fomo.ErrInvalidAnnotation, "line %d: y %q", line, fields[2])
		}
		out = append(out, fomo.Annotation{Class: class + classOffset, X: float32(x), Y: float32(y)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
