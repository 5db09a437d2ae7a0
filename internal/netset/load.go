package netset

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/netfuse/netfuse/internal/generics"
)

// edge is one undirected weighted input edge before indexing.
type edge struct {
	source, target string
	weight         float32
}

// LoadOptions configure input preprocessing.
type LoadOptions struct {
	// Delimiter between edge-list columns. Defaults to tab.
	Delimiter string

	// SVDDim, if > 0, replaces identity features by per-network SVD features.
	SVDDim int

	// LabelPaths are optional label tables, one supervised set each.
	LabelPaths []string
}

// Load reads every network edge list, builds the shared node index, the
// per-network CSR adjacencies, masks, loss scale weights, features and label
// sets. The result is immutable for the rest of the run.
func Load(netPaths []string, opts LoadOptions) (*Bundle, error) {
	if opts.Delimiter == "" {
		opts.Delimiter = "\t"
	}

	edgeLists := make([][]edge, len(netPaths))
	for netIdx, path := range netPaths {
		edges, err := readEdgeList(path, opts.Delimiter)
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			return nil, errors.Errorf("network %q has no edges", path)
		}
		edgeLists[netIdx] = edges
		klog.V(1).Infof("Read %d edges from %q", len(edges), path)
	}

	index, err := buildIndex(edgeLists)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Node universe has %d nodes across %d networks", index.Len(), len(netPaths))

	bundle := &Bundle{
		Index:    index,
		Networks: make([]*Network, len(netPaths)),
		Masks:    make([]float32, index.Len()*len(netPaths)),
	}
	for netIdx, path := range netPaths {
		adj := buildCSR(index, edgeLists[netIdx])
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		bundle.Networks[netIdx] = &Network{Name: name, Adj: adj}
		for node := 0; node < index.Len(); node++ {
			if adj.Degree(int32(node)) > 0 {
				bundle.Masks[node*len(netPaths)+netIdx] = 1
			}
		}
	}
	bundle.ScaleWeights = scaleWeights(bundle.Masks, index.Len(), len(netPaths))

	bundle.Features, err = buildFeatures(bundle, opts.SVDDim)
	if err != nil {
		return nil, err
	}

	for _, path := range opts.LabelPaths {
		labelSet, err := readLabelSet(path, opts.Delimiter, index)
		if err != nil {
			return nil, err
		}
		bundle.Labels = append(bundle.Labels, labelSet)
		klog.V(1).Infof("Label set %q: %d classes, %d labeled nodes",
			labelSet.Name, labelSet.NumClasses(), countNonZero(labelSet.Mask))
	}
	return bundle, nil
}

// readEdgeList parses one network file: one edge per line, columns
// source, target and an optional weight (default 1).
func readEdgeList(path, delimiter string) ([]edge, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open network %q", path)
	}
	defer func() { _ = file.Close() }()

	var edges []edge
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		columns := strings.Split(line, delimiter)
		if len(columns) < 2 {
			return nil, errors.Errorf("%s:%d: expected at least 2 columns, got %d", path, lineNum, len(columns))
		}
		weight := float32(1)
		if len(columns) >= 3 && columns[2] != "" {
			parsed, err := strconv.ParseFloat(columns[2], 32)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: bad edge weight %q", path, lineNum, columns[2])
			}
			weight = float32(parsed)
		}
		if columns[0] == columns[1] {
			// Self-edges are implicit in the encoder, drop them here.
			continue
		}
		edges = append(edges, edge{source: columns[0], target: columns[1], weight: weight})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading network %q", path)
	}
	return edges, nil
}

// buildIndex returns the sorted union of node names over all edge lists.
// Sorting makes the canonical order independent of file order.
func buildIndex(edgeLists [][]edge) (*NodeIndex, error) {
	seen := generics.MakeSet[string]()
	for _, edges := range edgeLists {
		for _, e := range edges {
			seen.Insert(e.source, e.target)
		}
	}
	return NewNodeIndex(slices.Collect(generics.SortedKeys(seen)))
}

// buildCSR symmetrizes the edge list and compresses it. Duplicate edges keep
// the largest weight.
func buildCSR(index *NodeIndex, edges []edge) *CSR {
	numNodes := index.Len()
	type pair struct{ src, tgt int32 }
	weightOf := make(map[pair]float32, 2*len(edges))
	for _, e := range edges {
		src, _ := index.Position(e.source)
		tgt, _ := index.Position(e.target)
		for _, p := range []pair{{src, tgt}, {tgt, src}} {
			if prev, found := weightOf[p]; !found || e.weight > prev {
				weightOf[p] = e.weight
			}
		}
	}

	counts := make([]int32, numNodes)
	for p := range weightOf {
		counts[p.src]++
	}
	adj := &CSR{
		Starts:  make([]int32, numNodes+1),
		Targets: make([]int32, len(weightOf)),
		Weights: make([]float32, len(weightOf)),
	}
	for node := 0; node < numNodes; node++ {
		adj.Starts[node+1] = adj.Starts[node] + counts[node]
	}
	fill := make([]int32, numNodes)
	for p, weight := range weightOf {
		at := adj.Starts[p.src] + fill[p.src]
		adj.Targets[at] = p.tgt
		adj.Weights[at] = weight
		fill[p.src]++
	}
	// Sort each neighbor list so sampling and tests are deterministic given
	// a fixed random seed.
	for node := 0; node < numNodes; node++ {
		start, end := adj.Starts[node], adj.Starts[node+1]
		sortNeighbors(adj.Targets[start:end], adj.Weights[start:end])
	}
	return adj
}

func sortNeighbors(targets []int32, weights []float32) {
	order := make([]int, len(targets))
	for ii := range order {
		order[ii] = ii
	}
	sort.Slice(order, func(a, b int) bool { return targets[order[a]] < targets[order[b]] })
	sortedTargets := make([]int32, len(targets))
	sortedWeights := make([]float32, len(weights))
	for ii, from := range order {
		sortedTargets[ii] = targets[from]
		sortedWeights[ii] = weights[from]
	}
	copy(targets, sortedTargets)
	copy(weights, sortedWeights)
}

func countNonZero(values []float32) int {
	count := 0
	for _, v := range values {
		if v != 0 {
			count++
		}
	}
	return count
}
