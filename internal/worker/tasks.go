package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// inputExtensions are the file suffixes the host decoders handle.
var inputExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Collect builds one task per image file directly inside inputDir, sorted by name.
// Outputs go to outputDir with extension ext. When two inputs share a base name
// the later ones get their source extension appended ("photo-jpg.png").
func Collect(inputDir, outputDir, ext string) ([]Task, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if inputExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	ext = strings.TrimPrefix(ext, ".")
	taken := make(map[string]bool, len(names))
	tasks := make([]Task, 0, len(names))
	for _, name := range names {
		srcExt := filepath.Ext(name)
		base := strings.TrimSuffix(name, srcExt)
		out := base + "." + ext
		if taken[out] {
			out = base + "-" + strings.ToLower(strings.TrimPrefix(srcExt, ".")) + "." + ext
		}
		taken[out] = true
		tasks = append(tasks, Task{
			Input:  filepath.Join(inputDir, name),
			Output: filepath.Join(outputDir, out),
		})
	}

	return tasks, nil
}
