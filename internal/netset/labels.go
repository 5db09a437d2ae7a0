package netset

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// readLabelSet parses one label table: a header row with the class names
// (first column is the node id column), then one row per labeled node with
// 0/1 class memberships. Nodes absent from the table get a zero mask; rows
// naming unknown nodes are skipped with a warning.
func readLabelSet(path, delimiter string, index *NodeIndex) (*LabelSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open label table %q", path)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		return nil, errors.Errorf("label table %q is empty", path)
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), delimiter)
	if len(header) < 2 {
		return nil, errors.Errorf("label table %q: header needs at least one class column", path)
	}
	classNames := header[1:]

	labelSet := &LabelSet{
		Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		ClassNames: classNames,
		Targets:    make([]float32, index.Len()*len(classNames)),
		Mask:       make([]float32, index.Len()),
	}

	lineNum := 1
	skipped := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		columns := strings.Split(line, delimiter)
		if len(columns) != len(header) {
			return nil, errors.Errorf("%s:%d: expected %d columns, got %d", path, lineNum, len(header), len(columns))
		}
		node, found := index.Position(columns[0])
		if !found {
			skipped++
			continue
		}
		for col, value := range columns[1:] {
			parsed, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: bad label value %q", path, lineNum, value)
			}
			labelSet.Targets[int(node)*len(classNames)+col] = float32(parsed)
		}
		labelSet.Mask[node] = 1
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading label table %q", path)
	}
	if skipped > 0 {
		klog.Warningf("Label table %q names %d nodes not present in any network, skipped", path, skipped)
	}
	return labelSet, nil
}
