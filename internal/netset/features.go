package netset

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// buildFeatures constructs the node features: the shared identity matrix by
// default, or per-network SVD-reduced adjacency features when svdDim > 0.
func buildFeatures(bundle *Bundle, svdDim int) (*FeatureSet, error) {
	numNodes := bundle.NumNodes()
	if svdDim <= 0 {
		shared := make([]float32, numNodes*numNodes)
		for node := 0; node < numNodes; node++ {
			shared[node*numNodes+node] = 1
		}
		return &FeatureSet{Dim: numNodes, Shared: shared}, nil
	}

	if svdDim > numNodes {
		return nil, errors.Errorf("svd_dim (%d) cannot exceed the number of nodes (%d)", svdDim, numNodes)
	}
	perNetwork := make([][]float32, len(bundle.Networks))
	for netIdx, network := range bundle.Networks {
		features, err := svdFeatures(network.Adj, svdDim)
		if err != nil {
			return nil, errors.WithMessagef(err, "SVD features for network %q", network.Name)
		}
		perNetwork[netIdx] = features
		klog.V(1).Infof("SVD reduced network %q to %d dimensions", network.Name, svdDim)
	}
	return &FeatureSet{Dim: svdDim, PerNetwork: perNetwork}, nil
}

// svdFeatures computes the rank-dim approximation features U_d * S_d of the
// dense adjacency.
func svdFeatures(adj *CSR, dim int) ([]float32, error) {
	numNodes := adj.NumNodes()
	dense := mat.NewDense(numNodes, numNodes, nil)
	for node := 0; node < numNodes; node++ {
		targets, weights := adj.Neighbors(int32(node))
		for ii, target := range targets {
			dense.Set(node, int(target), float64(weights[ii]))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(dense, mat.SVDThin); !ok {
		return nil, errors.New("SVD factorization failed to converge")
	}
	var u mat.Dense
	svd.UTo(&u)
	sigma := svd.Values(nil)

	features := make([]float32, numNodes*dim)
	for node := 0; node < numNodes; node++ {
		for col := 0; col < dim; col++ {
			features[node*dim+col] = float32(u.At(node, col) * sigma[col])
		}
	}
	return features, nil
}
